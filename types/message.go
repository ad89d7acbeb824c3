// Package types provides core types used across the aeroflow engine.
// This package has ZERO dependencies on other aeroflow packages to avoid
// circular imports. All other packages should import types from here.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a pending action emitted by an assistant message.
// A later tool message whose ToolCallID matches resolves it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry in a thread's append-only conversation log.
// ID is the message identity used for replay de-duplication; Name tags
// the originating role (top-level router or a sub-workflow identity).
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message tagged with the
// producing role identity.
func NewAssistantMessage(name, content string) Message {
	m := NewMessage(RoleAssistant, content)
	m.Name = name
	return m
}

// NewToolMessage creates a tool-result message resolving a pending action.
func NewToolMessage(toolCallID, name, content string) Message {
	m := NewMessage(RoleTool, content)
	m.Name = name
	m.ToolCallID = toolCallID
	return m
}

// WithToolCalls attaches pending actions to the message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// PendingAction reports whether the message represents a pending action
// rather than user-facing content.
func (m Message) PendingAction() bool {
	return len(m.ToolCalls) > 0
}
