package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		Endpoint: srv.URL,
		APIKey:   "test-key",
		Model:    "deepseek-chat",
	}, zap.NewNop())
}

func completionResponse(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestClientReason(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("你好，有什么可以帮您？")))
	})

	msgs := []types.Message{
		types.NewUserMessage("你好"),
		types.NewAssistantMessage("router", "您好"),
	}
	out, err := client.Reason(context.Background(), msgs, "你是机场客服", collab.ShapeText)
	require.NoError(t, err)
	assert.Equal(t, "你好，有什么可以帮您？", out)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "你是机场客服", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "router", got.Messages[2].Name)
	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Nil(t, got.ResponseFormat)
}

func TestClientStructuredShapeRequestsJSON(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completionResponse(`{"intent": "flight_info"}`)))
	})

	out, err := client.Reason(context.Background(), nil, "判断意图类别", collab.ShapeStructured)
	require.NoError(t, err)
	assert.Contains(t, out, "flight_info")
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestClientToolMessagesDowngradeToUser(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completionResponse("ok")))
	})

	msgs := []types.Message{types.NewToolMessage("call-1", "flight_info", "CA1384 准点")}
	_, err := client.Reason(context.Background(), msgs, "", collab.ShapeText)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestClientServerErrorIsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := client.Reason(context.Background(), nil, "hi", collab.ShapeText)
	require.Error(t, err)
	assert.Equal(t, types.ErrCollaboratorFailure, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestClientAuthErrorNotRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid api key"}}`, http.StatusUnauthorized)
	})

	_, err := client.Reason(context.Background(), nil, "hi", collab.ShapeText)
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
}

func TestClientEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})

	_, err := client.Reason(context.Background(), nil, "hi", collab.ShapeText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
