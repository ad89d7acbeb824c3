// Package collab defines the contracts for every external collaborator
// the orchestration core talks to: reasoning, knowledge search, flight
// queries, and the transactional business API. Implementations live in
// their own packages; the core only sees these interfaces.
package collab

import (
	"context"

	"github.com/traveler-leon/aeroflow/types"
)

// ResponseShape hints what the caller expects back from a reason call.
type ResponseShape string

const (
	// ShapeText 自由文本回复
	ShapeText ResponseShape = "text"
	// ShapeStructured 期望回复中嵌入可机读的 JSON 载荷
	ShapeStructured ResponseShape = "structured"
)

// Reasoner 推理协作方
type Reasoner interface {
	// Reason runs one reasoning call over the prepared context window.
	// With ShapeStructured the returned text should embed a JSON object;
	// callers must tolerate its absence via DecodeJSON defaults.
	Reason(ctx context.Context, messages []types.Message, instructions string, shape ResponseShape) (string, error)
}

// ScoredDocument is one knowledge-search hit.
type ScoredDocument struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher 知识检索协作方，结果按相关度降序
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]ScoredDocument, error)
}

// Querier 航班数据查询协作方
type Querier interface {
	// BuildQuery turns structured parameters into an executable query.
	BuildQuery(ctx context.Context, params map[string]any) (string, error)
	// Run executes the query and returns result rows.
	Run(ctx context.Context, query string) ([]map[string]any, error)
}

// CallResult is the business API's response envelope.
type CallResult struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
}

// BusinessAPI 业务办理协作方
type BusinessAPI interface {
	Call(ctx context.Context, serviceType string, params map[string]any) (*CallResult, error)
}
