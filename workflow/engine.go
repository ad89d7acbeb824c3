package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/types"
)

// MaxSupersteps 单轮执行的超步上限，超过即判定流程发散
const MaxSupersteps = 50

// StepEvent is one streamed piece of assistant output: which step
// produced it and the text it added to the conversation log.
type StepEvent struct {
	StepID string
	Text   string
}

// EmitFunc receives streamed events during a run. It is called from the
// engine goroutine between supersteps; a slow consumer slows the run.
type EmitFunc func(StepEvent)

// CheckpointWriter persists the full merged state after each completed
// superstep. Implementations live in the checkpoint package; the engine
// only needs the write side.
type CheckpointWriter interface {
	Save(ctx context.Context, workflowID, threadID string, st map[string]any) error
}

// emitTracker remembers which message IDs have already been streamed so
// that nested runs re-merging a parent's log do not re-emit it.
type emitTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newEmitTracker() *emitTracker {
	return &emitTracker{seen: make(map[string]struct{})}
}

// markSeen records the IDs without emitting, used to prime the tracker
// with the pre-turn log.
func (t *emitTracker) markSeen(msgs []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if m.ID != "" {
			t.seen[m.ID] = struct{}{}
		}
	}
}

// unseen filters to messages not yet emitted and marks them seen.
func (t *emitTracker) unseen(msgs []types.Message) []types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.Message
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// RunConfig carries per-turn identity and streaming hooks. The same
// config (tracker included) is shared with nested workflow runs so
// emission is counted once across the whole tree.
type RunConfig struct {
	WorkflowID string
	ThreadID   string
	Emit       EmitFunc

	tracker *emitTracker
}

func (rc *RunConfig) ensureTracker() *emitTracker {
	if rc.tracker == nil {
		rc.tracker = newEmitTracker()
	}
	return rc.tracker
}

type runConfigKey struct{}

// runConfigFromContext recovers the enclosing run's config inside a
// step, letting nested workflows share streaming and emit tracking.
func runConfigFromContext(ctx context.Context) *RunConfig {
	rc, _ := ctx.Value(runConfigKey{}).(*RunConfig)
	return rc
}

// Outcome reports how a run ended.
type Outcome struct {
	// Halted means the workflow paused awaiting external input.
	Halted bool
	// Deferred means a nested workflow handed control back to its parent.
	// Only meaningful for nested runs.
	Deferred bool
}

// Engine drives one workflow definition through supersteps: run the
// current step, merge its update, stream new assistant output,
// checkpoint, then route. State changes are never observable mid-step;
// a failed step leaves the last checkpointed state as the state of record.
type Engine struct {
	def    *Definition
	saver  CheckpointWriter
	logger *zap.Logger
}

// NewEngine builds an engine over a validated definition. saver may be
// nil for nested engines, whose parent owns checkpointing.
func NewEngine(def *Definition, saver CheckpointWriter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{def: def, saver: saver, logger: logger.With(zap.String("workflow", def.Name()))}
}

// Definition returns the engine's workflow definition.
func (e *Engine) Definition() *Definition { return e.def }

// Run executes one turn from the given state, starting at startStep
// (the entry step when empty), and returns the final merged state.
//
// Each superstep is atomic: the update is merged, streamed, and
// checkpointed before the next step is chosen. On step error nothing of
// the failed superstep is persisted. More than MaxSupersteps in a turn
// returns WORKFLOW_DIVERGENCE.
func (e *Engine) Run(ctx context.Context, rc *RunConfig, st State, startStep string) (State, Outcome, error) {
	tracker := rc.ensureTracker()
	tracker.markSeen(MessagesOf(st, MessagesField))
	ctx = context.WithValue(ctx, runConfigKey{}, rc)

	cur := startStep
	if cur == "" {
		cur = e.def.Entry()
	}

	for n := 0; ; n++ {
		if n >= MaxSupersteps {
			return st, Outcome{}, types.NewError(types.ErrWorkflowDivergence,
				fmt.Sprintf("workflow %s exceeded %d supersteps in one turn", e.def.Name(), MaxSupersteps))
		}
		if err := ctx.Err(); err != nil {
			return st, Outcome{}, err
		}

		step, ok := e.def.Step(cur)
		if !ok {
			return st, Outcome{}, types.NewError(types.ErrWorkflowNotFound,
				fmt.Sprintf("workflow %s routes to unknown step %q", e.def.Name(), cur))
		}

		e.logger.Debug("superstep", zap.Int("n", n), zap.String("step", cur))
		up, dec, err := step.Run(ctx, st)
		if err != nil {
			return st, Outcome{}, fmt.Errorf("step %s: %w", cur, err)
		}

		next, err := e.def.Schema().Apply(st, up)
		if err != nil {
			return st, Outcome{}, fmt.Errorf("step %s: %w", cur, err)
		}
		st = next

		e.stream(rc, tracker, cur, st)
		if err := e.checkpoint(ctx, rc, st); err != nil {
			return st, Outcome{}, err
		}

		if dec.IsZero() {
			router, ok := e.def.routers[cur]
			if !ok {
				return st, Outcome{}, types.NewError(types.ErrInvalidDefinition,
					fmt.Sprintf("step %q returned no decision and has no router", cur))
			}
			dec = router(st)
		}

		switch {
		case dec.IsHalt():
			return st, Outcome{Halted: true}, nil
		case dec.IsDefer():
			return st, Outcome{Deferred: true}, nil
		default:
			to, ok := dec.Next()
			if !ok {
				return st, Outcome{}, types.NewError(types.ErrInvalidDefinition,
					fmt.Sprintf("router for step %q produced an unset decision", cur))
			}
			cur = to
		}
	}
}

// stream pushes each not-yet-emitted assistant message to the consumer.
// Seen-ID tracking runs even without a consumer so a tracker shared with
// nested runs stays consistent.
func (e *Engine) stream(rc *RunConfig, tracker *emitTracker, stepID string, st State) {
	fresh := tracker.unseen(MessagesOf(st, MessagesField))
	if rc.Emit == nil {
		return
	}
	for _, m := range fresh {
		if m.Role != types.RoleAssistant || m.Content == "" {
			continue
		}
		rc.Emit(StepEvent{StepID: stepID, Text: m.Content})
	}
}

func (e *Engine) checkpoint(ctx context.Context, rc *RunConfig, st State) error {
	if e.saver == nil {
		return nil
	}
	if err := e.saver.Save(ctx, rc.WorkflowID, rc.ThreadID, st); err != nil {
		e.logger.Error("checkpoint write failed", zap.Error(err))
		return types.NewError(types.ErrPersistenceUnavailable, "checkpoint write failed").
			WithCause(err).WithRetryable(true)
	}
	return nil
}
