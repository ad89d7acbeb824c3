package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Orchestration error codes
const (
	// ErrExtractionDefault 推理调用未返回可解析的结构化载荷，已用默认值替代
	ErrExtractionDefault ErrorCode = "EXTRACTION_DEFAULT"
	// ErrBoundedLoopExceeded 澄清/重试计数器超过上限
	ErrBoundedLoopExceeded ErrorCode = "BOUNDED_LOOP_EXCEEDED"
	// ErrCollaboratorFailure 外部协作方调用失败
	ErrCollaboratorFailure ErrorCode = "COLLABORATOR_FAILURE"
	// ErrPersistenceUnavailable 持久化后端不可达，当前轮次失败
	ErrPersistenceUnavailable ErrorCode = "PERSISTENCE_UNAVAILABLE"
	// ErrWorkflowDivergence 超步上限耗尽仍未停机
	ErrWorkflowDivergence ErrorCode = "WORKFLOW_DIVERGENCE"
)

// Registration / lookup error codes
const (
	ErrWorkflowNotFound  ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrInvalidDefinition ErrorCode = "INVALID_DEFINITION"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, empty when untyped.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
