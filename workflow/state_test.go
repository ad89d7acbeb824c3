package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traveler-leon/aeroflow/types"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Field{Name: MessagesField, Reduce: Append},
		Field{Name: "intent", Reduce: Overwrite, Default: ""},
		Field{Name: "clarify_count", Reduce: Overwrite, Default: 0},
		Field{Name: "extracted", Reduce: ShallowMerge, Default: map[string]any{}},
	)
	require.NoError(t, err)
	return s
}

func TestSchemaRejectsBadDeclarations(t *testing.T) {
	_, err := NewSchema(Field{Name: "", Reduce: Overwrite})
	assert.Equal(t, types.ErrInvalidDefinition, types.GetErrorCode(err))

	_, err = NewSchema(
		Field{Name: "a", Reduce: Overwrite},
		Field{Name: "a", Reduce: Append},
	)
	assert.Equal(t, types.ErrInvalidDefinition, types.GetErrorCode(err))

	_, err = NewSchema(Field{Name: "a", Reduce: ReducerKind("fold")})
	assert.Equal(t, types.ErrInvalidDefinition, types.GetErrorCode(err))
}

func TestApplyOverwriteAndMerge(t *testing.T) {
	s := testSchema(t)
	st := s.NewState()

	st, err := s.Apply(st, Update{
		"intent":    "flight",
		"extracted": map[string]any{"flight_number": "CA1384"},
	})
	require.NoError(t, err)

	st, err = s.Apply(st, Update{
		"intent":    "knowledge",
		"extracted": map[string]any{"date": "2025-06-01"},
	})
	require.NoError(t, err)

	assert.Equal(t, "knowledge", StringOf(st, "intent"))
	assert.Equal(t, map[string]any{
		"flight_number": "CA1384",
		"date":          "2025-06-01",
	}, MapOf(st, "extracted"))
}

func TestApplyAppendDeduplicatesByID(t *testing.T) {
	s := testSchema(t)
	st := s.NewState()

	u := types.NewUserMessage("航班CA1384什么时候起飞")
	a := types.NewAssistantMessage("flight", "预计14:30起飞")

	st, err := s.Apply(st, Update{MessagesField: []types.Message{u, a}})
	require.NoError(t, err)

	// 重放同一 update 不应产生重复消息
	st, err = s.Apply(st, Update{MessagesField: []types.Message{u, a}})
	require.NoError(t, err)

	msgs := MessagesOf(st, MessagesField)
	require.Len(t, msgs, 2)
	assert.Equal(t, u.ID, msgs[0].ID)
	assert.Equal(t, a.ID, msgs[1].ID)
}

func TestApplySingleMessageValue(t *testing.T) {
	s := testSchema(t)
	st := s.NewState()

	m := types.NewUserMessage("你好")
	st, err := s.Apply(st, Update{MessagesField: m})
	require.NoError(t, err)
	assert.Len(t, MessagesOf(st, MessagesField), 1)
}

func TestApplyRejectsUndeclaredField(t *testing.T) {
	s := testSchema(t)
	_, err := s.Apply(s.NewState(), Update{"unknown": 1})
	assert.Equal(t, types.ErrInvalidDefinition, types.GetErrorCode(err))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := testSchema(t)
	st := s.NewState()
	st, err := s.Apply(st, Update{"extracted": map[string]any{"a": 1}})
	require.NoError(t, err)

	_, err = s.Apply(st, Update{"extracted": map[string]any{"b": 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, MapOf(st, "extracted"))
}

func TestNormalizeAfterJSONRoundTrip(t *testing.T) {
	s := testSchema(t)
	st := s.NewState()
	st, err := s.Apply(st, Update{
		MessagesField:   types.NewUserMessage("行李托运多少钱"),
		"clarify_count": 2,
		"extracted":     map[string]any{"service": "checkin"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	got, err := s.Normalize(raw)
	require.NoError(t, err)

	msgs := MessagesOf(got, MessagesField)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	// JSON 解码把整数还原成 float64，IntOf 要能容忍
	assert.Equal(t, 2, IntOf(got, "clarify_count"))
	assert.Equal(t, "checkin", MapOf(got, "extracted")["service"])
}

func TestNormalizeFillsMissingFieldsWithDefaults(t *testing.T) {
	s := testSchema(t)
	got, err := s.Normalize(map[string]any{"intent": "flight"})
	require.NoError(t, err)
	assert.Equal(t, "flight", StringOf(got, "intent"))
	assert.Equal(t, 0, IntOf(got, "clarify_count"))
	assert.Empty(t, MessagesOf(got, MessagesField))
	assert.NotNil(t, MapOf(got, "extracted"))
}
