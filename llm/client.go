// Package llm 提供基于 OpenAI 兼容接口的推理协作方实现。
//
// 任何暴露 /chat/completions 的服务（OpenAI、DeepSeek、Qwen 等）
// 都可以作为后端。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/types"
)

// Options 客户端配置
type Options struct {
	// Endpoint 形如 https://api.deepseek.com/v1
	Endpoint string
	// APIKey Bearer 认证密钥
	APIKey string
	// Model 模型名称
	Model string
	// Timeout 单次请求超时
	Timeout time.Duration
}

// Client 调用 OpenAI 兼容的 chat completions 接口完成推理。
// 实现 collab.Reasoner。
type Client struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// NewClient 创建推理客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

var _ collab.Reasoner = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Reason 发起一次推理调用。
// instructions 作为 system 消息置于上下文之首。
func (c *Client) Reason(ctx context.Context, messages []types.Message, instructions string, shape collab.ResponseShape) (string, error) {
	req := chatRequest{
		Model:    c.opts.Model,
		Messages: make([]chatMessage, 0, len(messages)+1),
	}
	if instructions != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: instructions})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{
			Role:    mapRole(m.Role),
			Name:    m.Name,
			Content: m.Content,
		})
	}
	if shape == collab.ShapeStructured {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "failed to encode reason request").WithCause(err)
	}

	endpoint := strings.TrimRight(c.opts.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "failed to build reason request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "reason request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "failed to read reason response").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		var e chatError
		_ = json.Unmarshal(raw, &e)
		msg := e.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		c.logger.Warn("reason call rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		// 限流和服务端错误可重试，认证和请求错误不可
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", types.NewError(types.ErrCollaboratorFailure,
			fmt.Sprintf("reason call failed: status=%d msg=%s", resp.StatusCode, msg)).
			WithRetryable(retryable)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "failed to decode reason response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewError(types.ErrCollaboratorFailure, "reason response has no choices")
	}

	c.logger.Debug("reason call completed",
		zap.String("model", c.opts.Model),
		zap.Duration("latency", time.Since(start)))

	return parsed.Choices[0].Message.Content, nil
}

// mapRole OpenAI 兼容接口不接受裸的 tool 角色，tool 消息降级为 user
func mapRole(r types.Role) string {
	switch r {
	case types.RoleSystem:
		return "system"
	case types.RoleAssistant:
		return "assistant"
	case types.RoleTool:
		return "user"
	default:
		return "user"
	}
}
