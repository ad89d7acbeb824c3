// Package agents defines the airport customer-service workflows: the
// top-level intent router and the knowledge, flight and business
// sub-workflows, all over one shared state schema.
package agents

import (
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/types"
	"github.com/traveler-leon/aeroflow/workflow"
)

// 子工作流身份标签，同时是父图中的步骤 ID 和助手消息的 Name 标记
const (
	RoleRouter          = "router"
	RoleKnowledgeQA     = "knowledge_qa"
	RoleFlightInfo      = "flight_info"
	RoleBusinessService = "business_service"
)

// 有界循环与阈值
const (
	// IntentConfidenceFloor 低于此置信度转人工
	IntentConfidenceFloor = 0.3
	// ServiceConfidenceFloor 低于此置信度先确认业务类型
	ServiceConfidenceFloor = 0.6
	// RelevanceThreshold 检索相关性下限
	RelevanceThreshold = 0.7
	// MaxClarifyRounds 澄清轮数上限，clarify/ask_for_specifics/refine 共享
	MaxClarifyRounds = 2
	// MaxQueryRetries 查询失败重试上限
	MaxQueryRetries = 2
	// AnswerRuneLimit 回答超长则触发简化
	AnswerRuneLimit = 100
)

// 状态字段名
const (
	FieldMessages = workflow.MessagesField

	FieldIntent           = "intent"
	FieldIntentConfidence = "intent_confidence"
	FieldProfile          = "profile"

	FieldClarifyCount = "clarify_count"
	FieldKBQuery      = "kb_query"
	FieldKBComplete   = "kb_complete"
	FieldKBMissing    = "kb_missing"
	FieldKBDocs       = "kb_docs"
	FieldKBRelevance  = "kb_relevance"
	FieldKBKinds      = "kb_kinds"
	FieldKBStyle      = "kb_style"
	FieldKBAnswer     = "kb_answer"

	FieldFlightParams = "flight_params"
	FieldFlightQuery  = "flight_query"
	FieldFlightRows   = "flight_rows"
	FieldFlightRetry  = "flight_retry_count"
	FieldFlightError  = "flight_error"
	FieldFlightAnswer = "flight_answer"

	FieldServiceType        = "service_type"
	FieldServiceConfidence  = "service_confidence"
	FieldServiceParams      = "service_params"
	FieldServiceMissing     = "service_missing"
	FieldServiceResult      = "service_result"
	FieldAwaitingConfirm    = "awaiting_confirmation"
	FieldKnowledgePhase     = RoleKnowledgeQA + "_phase"
	FieldFlightPhase        = RoleFlightInfo + "_phase"
	FieldBusinessPhase      = RoleBusinessService + "_phase"
)

// Schema returns the shared state schema every workflow operates on.
func Schema() *workflow.Schema {
	return workflow.MustSchema(
		workflow.Field{Name: FieldMessages, Reduce: workflow.Append},

		workflow.Field{Name: FieldIntent, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldIntentConfidence, Reduce: workflow.Overwrite, Default: 0.0},
		workflow.Field{Name: FieldProfile, Reduce: workflow.ShallowMerge, Default: map[string]any{}},

		workflow.Field{Name: FieldClarifyCount, Reduce: workflow.Overwrite, Default: 0},
		workflow.Field{Name: FieldKBQuery, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldKBComplete, Reduce: workflow.Overwrite, Default: false},
		workflow.Field{Name: FieldKBMissing, Reduce: workflow.Overwrite, Default: []string{}},
		workflow.Field{Name: FieldKBDocs, Reduce: workflow.Overwrite, Default: []any{}},
		workflow.Field{Name: FieldKBRelevance, Reduce: workflow.Overwrite, Default: 0.0},
		workflow.Field{Name: FieldKBKinds, Reduce: workflow.Overwrite, Default: []string{}},
		workflow.Field{Name: FieldKBStyle, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldKBAnswer, Reduce: workflow.Overwrite, Default: ""},

		workflow.Field{Name: FieldFlightParams, Reduce: workflow.ShallowMerge, Default: map[string]any{}},
		workflow.Field{Name: FieldFlightQuery, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldFlightRows, Reduce: workflow.Overwrite, Default: []any{}},
		workflow.Field{Name: FieldFlightRetry, Reduce: workflow.Overwrite, Default: 0},
		workflow.Field{Name: FieldFlightError, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldFlightAnswer, Reduce: workflow.Overwrite, Default: ""},

		workflow.Field{Name: FieldServiceType, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldServiceConfidence, Reduce: workflow.Overwrite, Default: 0.0},
		workflow.Field{Name: FieldServiceParams, Reduce: workflow.ShallowMerge, Default: map[string]any{}},
		workflow.Field{Name: FieldServiceMissing, Reduce: workflow.Overwrite, Default: []string{}},
		workflow.Field{Name: FieldServiceResult, Reduce: workflow.Overwrite, Default: map[string]any{}},
		workflow.Field{Name: FieldAwaitingConfirm, Reduce: workflow.Overwrite, Default: false},

		workflow.Field{Name: FieldKnowledgePhase, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldFlightPhase, Reduce: workflow.Overwrite, Default: ""},
		workflow.Field{Name: FieldBusinessPhase, Reduce: workflow.Overwrite, Default: ""},
	)
}

// Deps carries the collaborators every workflow step calls out to.
type Deps struct {
	Reasoner collab.Reasoner
	Searcher collab.Searcher
	Querier  collab.Querier
	Business collab.BusinessAPI
	Logger   *zap.Logger

	// MaxTurns bounds the plain context window handed to the Reasoner.
	MaxTurns int
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) maxTurns() int {
	if d.MaxTurns <= 0 {
		return 5
	}
	return d.MaxTurns
}

// latestUserContent returns the text of the most recent user message.
func latestUserContent(st workflow.State) string {
	msgs := workflow.MessagesOf(st, FieldMessages)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// say wraps text as an assistant message tagged with the producing role.
func say(role, text string) types.Message {
	return types.NewAssistantMessage(role, text)
}

// singleUser wraps text as a one-message context for rewrite-style
// reason calls (simplify, restyle) that operate on a draft, not the log.
func singleUser(text string) []types.Message {
	return []types.Message{types.NewUserMessage(text)}
}
