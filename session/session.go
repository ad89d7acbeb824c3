// Package session coordinates multi-turn conversations: it owns the
// registered workflow definitions and the persistence backend, restores
// a thread's state from its latest checkpoint, serializes turns per
// thread, and streams assistant output while the engine runs.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/checkpoint"
	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/contextwindow"
	"github.com/traveler-leon/aeroflow/internal/metrics"
	"github.com/traveler-leon/aeroflow/types"
	"github.com/traveler-leon/aeroflow/workflow"
)

const defaultSummaryInstructions = `总结以下对话的要点，包括用户的需求和已提供的答复。
用不超过三句话的中文概括。`

// defaultContextTurns 摘要上下文窗口的轮数上限
const defaultContextTurns = 5

// Options configures an Orchestrator. Saver is required; everything
// else has a usable zero value.
type Options struct {
	// Saver persists per-thread checkpoints.
	Saver checkpoint.Saver
	// Store, when set together with ProfileField, receives a copy of
	// that state field after every turn for cross-thread reads.
	Store checkpoint.Store
	// ProfileField names the shallow-merge state field mirrored into
	// Store under the ProfileNamespace.
	ProfileField     string
	ProfileNamespace string
	// Reasoner serves Summarize. Advance does not need it.
	Reasoner collab.Reasoner
	// SummaryInstructions overrides the built-in summarization prompt.
	SummaryInstructions string
	// TurnTimeout bounds one Advance turn, zero means no deadline.
	// A timed-out turn keeps whatever supersteps were already
	// checkpointed and abandons the rest.
	TurnTimeout time.Duration
	// ContextTurns bounds the Summarize context window.
	ContextTurns int
	// Window tunes token budgeting of the Summarize context window.
	Window contextwindow.Options
	// EventBuffer sizes each turn's event channel.
	EventBuffer int

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Orchestrator drives registered workflows over persisted threads.
// All dependencies are injected; the orchestrator holds no globals, so
// multiple instances can serve disjoint backends in one process.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	defs    map[string]*workflow.Definition
	threads map[string]*threadQueue
}

// NewOrchestrator builds an orchestrator over the given persistence
// backend.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Saver == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "session: checkpoint saver is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SummaryInstructions == "" {
		opts.SummaryInstructions = defaultSummaryInstructions
	}
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = defaultContextTurns
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	if opts.ProfileNamespace == "" {
		opts.ProfileNamespace = "profiles"
	}
	return &Orchestrator{
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "session")),
		defs:    make(map[string]*workflow.Definition),
		threads: make(map[string]*threadQueue),
	}, nil
}

// Register installs a workflow definition under its own name.
// Re-registering the same name replaces the previous definition;
// in-flight turns keep the definition they started with.
func (o *Orchestrator) Register(def *workflow.Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defs[def.Name()] = def
}

func (o *Orchestrator) definition(workflowID string) (*workflow.Definition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	def, ok := o.defs[workflowID]
	if !ok {
		return nil, types.NewError(types.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %q is not registered", workflowID))
	}
	return def, nil
}

// threadQueue serializes turns on one thread in strict arrival order.
// Each entry gets a ready channel closed when it reaches the front, so
// wake order never depends on mutex fairness or goroutine scheduling.
type threadQueue struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// enqueue takes a place in line. The returned channel is closed once
// the caller holds the thread; give it up with release.
func (q *threadQueue) enqueue() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	if len(q.waiters) == 1 {
		close(ready)
	}
	return ready
}

// release hands the thread to the next waiter in line.
func (q *threadQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiters = q.waiters[1:]
	if len(q.waiters) > 0 {
		close(q.waiters[0])
	}
}

func (o *Orchestrator) queueFor(workflowID, threadID string) *threadQueue {
	key := workflowID + "\x00" + threadID
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := o.threads[key]
	if !ok {
		q = &threadQueue{}
		o.threads[key] = q
	}
	return q
}

// Turn is one in-flight Advance call. Consume Events until it closes,
// or call Wait which drains for you; State, Outcome and Err are only
// meaningful afterwards.
type Turn struct {
	events  chan workflow.StepEvent
	state   workflow.State
	outcome workflow.Outcome
	err     error
}

// Events streams assistant output as the engine produces it. The
// channel closes when the turn finishes.
func (t *Turn) Events() <-chan workflow.StepEvent { return t.events }

// Wait drains remaining events and blocks until the turn finishes.
func (t *Turn) Wait(ctx context.Context) (workflow.State, error) {
	for {
		select {
		case _, ok := <-t.events:
			if !ok {
				return t.state, t.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// State returns the final merged state, valid once Events has closed.
func (t *Turn) State() workflow.State { return t.state }

// Outcome reports how the turn ended, valid once Events has closed.
func (t *Turn) Outcome() workflow.Outcome { return t.outcome }

// Err returns the turn error, valid once Events has closed.
func (t *Turn) Err() error { return t.err }

// turnWriter checkpoints through the orchestrator's saver and counts
// the turn's supersteps, one checkpoint per superstep.
type turnWriter struct {
	o     *Orchestrator
	saves int
}

func (w *turnWriter) Save(ctx context.Context, workflowID, threadID string, st map[string]any) error {
	start := time.Now()
	_, err := w.o.opts.Saver.Save(ctx, workflowID, threadID, st)
	if m := w.o.opts.Metrics; m != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordCheckpointWrite(workflowID, status, time.Since(start))
	}
	if err != nil {
		return err
	}
	w.saves++
	return nil
}

// Advance runs one conversation turn: restore the thread from its
// latest checkpoint (or schema defaults), append the user message, and
// execute the workflow until it halts. Turns on the same thread run
// one at a time in the order Advance was called; a queued Advance
// waits until its predecessor's final checkpoint write has completed.
func (o *Orchestrator) Advance(ctx context.Context, workflowID, threadID, text string) (*Turn, error) {
	if threadID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session: thread id is required")
	}
	def, err := o.definition(workflowID)
	if err != nil {
		return nil, err
	}

	// 返回前排队，轮次顺序由 Advance 调用顺序决定
	q := o.queueFor(workflowID, threadID)
	ready := q.enqueue()

	t := &Turn{events: make(chan workflow.StepEvent, o.opts.EventBuffer)}
	go o.runTurn(ctx, def, workflowID, threadID, text, t, q, ready)
	return t, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, def *workflow.Definition, workflowID, threadID, text string, t *Turn, q *threadQueue, ready <-chan struct{}) {
	defer close(t.events)

	<-ready
	defer q.release()

	if o.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	st, err := o.loadState(ctx, def, workflowID, threadID)
	if err == nil && text != "" {
		st, err = def.Schema().Apply(st, workflow.Update{
			workflow.MessagesField: types.NewUserMessage(text),
		})
	}
	if err != nil {
		t.err = err
		o.recordTurn(workflowID, "error", start)
		o.logger.Error("turn setup failed",
			zap.String("workflow", workflowID), zap.String("thread", threadID), zap.Error(err))
		return
	}

	writer := &turnWriter{o: o}
	eng := workflow.NewEngine(def, writer, o.logger)
	rc := &workflow.RunConfig{
		WorkflowID: workflowID,
		ThreadID:   threadID,
		Emit: func(ev workflow.StepEvent) {
			if m := o.opts.Metrics; m != nil {
				m.RecordEventStreamed(workflowID)
			}
			select {
			case t.events <- ev:
			case <-ctx.Done():
			}
		},
	}

	t.state, t.outcome, t.err = eng.Run(ctx, rc, st, "")
	if m := o.opts.Metrics; m != nil {
		m.RecordSupersteps(workflowID, writer.saves)
	}
	switch {
	case t.err != nil:
		o.recordTurn(workflowID, "error", start)
		o.logger.Error("turn failed",
			zap.String("workflow", workflowID), zap.String("thread", threadID), zap.Error(t.err))
	case t.outcome.Halted:
		o.recordTurn(workflowID, "halted", start)
	default:
		o.recordTurn(workflowID, "completed", start)
	}

	o.mirrorProfile(ctx, threadID, t.state)
}

func (o *Orchestrator) recordTurn(workflowID, outcome string, start time.Time) {
	if m := o.opts.Metrics; m != nil {
		m.RecordTurn(workflowID, outcome, time.Since(start))
	}
}

func (o *Orchestrator) loadState(ctx context.Context, def *workflow.Definition, workflowID, threadID string) (workflow.State, error) {
	cp, err := o.opts.Saver.Latest(ctx, workflowID, threadID)
	if err != nil {
		if m := o.opts.Metrics; m != nil {
			m.RecordCheckpointLoad(workflowID, "error")
		}
		return nil, err
	}
	if cp == nil {
		if m := o.opts.Metrics; m != nil {
			m.RecordCheckpointLoad(workflowID, "miss")
		}
		return def.Schema().NewState(), nil
	}
	if m := o.opts.Metrics; m != nil {
		m.RecordCheckpointLoad(workflowID, "hit")
	}
	// JSON 往返后的数值与消息需要按 schema 回填
	return def.Schema().Normalize(cp.State)
}

// mirrorProfile copies the configured profile field into the
// cross-thread store so other threads can read it. Failures are logged,
// never surfaced: the turn itself already checkpointed.
func (o *Orchestrator) mirrorProfile(ctx context.Context, threadID string, st workflow.State) {
	if o.opts.Store == nil || o.opts.ProfileField == "" || st == nil {
		return
	}
	profile := workflow.MapOf(st, o.opts.ProfileField)
	if len(profile) == 0 {
		return
	}
	if err := o.opts.Store.Put(ctx, o.opts.ProfileNamespace, threadID, profile); err != nil {
		o.logger.Warn("profile mirror failed", zap.String("thread", threadID), zap.Error(err))
	}
}

// Summarize condenses a thread's conversation without mutating any
// persisted state. The thread must have at least one checkpoint.
func (o *Orchestrator) Summarize(ctx context.Context, workflowID, threadID string) (string, error) {
	if o.opts.Reasoner == nil {
		return "", types.NewError(types.ErrInvalidRequest, "session: no reasoner configured for summaries")
	}
	def, err := o.definition(workflowID)
	if err != nil {
		return "", err
	}
	cp, err := o.opts.Saver.Latest(ctx, workflowID, threadID)
	if err != nil {
		return "", err
	}
	if cp == nil {
		return "", types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("thread %q has no conversation to summarize", threadID))
	}
	st, err := def.Schema().Normalize(cp.State)
	if err != nil {
		return "", err
	}

	window := contextwindow.BuildPlain(
		workflow.MessagesOf(st, workflow.MessagesField), o.opts.ContextTurns, o.opts.Window)
	summary, err := o.opts.Reasoner.Reason(ctx, window, o.opts.SummaryInstructions, collab.ShapeText)
	if err != nil {
		return "", types.NewError(types.ErrCollaboratorFailure, "summary reasoning failed").
			WithCause(err).WithRetryable(true)
	}
	return summary, nil
}

// Reset drops every checkpoint of the thread. The next Advance starts
// from schema defaults.
func (o *Orchestrator) Reset(ctx context.Context, workflowID, threadID string) error {
	q := o.queueFor(workflowID, threadID)
	<-q.enqueue()
	defer q.release()
	return o.opts.Saver.DeleteThread(ctx, workflowID, threadID)
}
