package workflow

import (
	"context"

	"go.uber.org/zap"
)

// Phase values recorded in a sub-workflow's phase field.
const (
	PhaseActive = "active"
	PhaseDone   = "done"
)

// SubWorkflowStep embeds a whole workflow as a single step of its
// parent. The nested run shares the parent's state and emit tracking;
// its supersteps are invisible to the parent, which sees one atomic
// update when the inner run stops.
//
// A phase field named "<id>_phase" records whether the nested workflow
// is mid-conversation ("active", after an inner Halt) or finished
// ("done", after an inner DeferToParent). Counter fields listed via
// WithResetOnReentry are reset to their schema defaults only when the
// parent re-enters a finished sub-workflow, so a clarification loop
// spanning several turns keeps its count.
type SubWorkflowStep struct {
	id          string
	inner       *Definition
	resetFields []string
	logger      *zap.Logger
}

// NewSubWorkflowStep wraps inner as a step of the parent workflow.
// The inner definition must share the parent's schema.
func NewSubWorkflowStep(id string, inner *Definition, logger *zap.Logger) *SubWorkflowStep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubWorkflowStep{id: id, inner: inner, logger: logger}
}

// WithResetOnReentry names counter fields restored to their defaults
// when the sub-workflow is entered again after completing.
func (s *SubWorkflowStep) WithResetOnReentry(fields ...string) *SubWorkflowStep {
	s.resetFields = append(s.resetFields, fields...)
	return s
}

func (s *SubWorkflowStep) ID() string { return s.id }

// PhaseField returns the name of this step's phase field. Declare it in
// the shared schema with the Overwrite reducer.
func (s *SubWorkflowStep) PhaseField() string { return s.id + "_phase" }

func (s *SubWorkflowStep) Run(ctx context.Context, st State) (Update, Decision, error) {
	working := st.Clone()

	if StringOf(st, s.PhaseField()) == PhaseDone {
		for _, f := range s.resetFields {
			working[f] = s.inner.Schema().Default(f)
		}
	}
	working[s.PhaseField()] = PhaseActive

	// 子工作流不直接写检查点，由父级在本步完成后统一落盘
	inner := NewEngine(s.inner, nil, s.logger)
	rc := runConfigFromContext(ctx)
	if rc == nil {
		rc = &RunConfig{}
	}
	final, out, err := inner.Run(ctx, rc, working, "")
	if err != nil {
		return nil, Decision{}, err
	}

	up := Update(final)
	switch {
	case out.Halted:
		up[s.PhaseField()] = PhaseActive
		return up, Halt(), nil
	default:
		up[s.PhaseField()] = PhaseDone
		return up, Decision{}, nil
	}
}
