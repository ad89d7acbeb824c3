package workflow

import (
	"context"
	"fmt"

	"github.com/traveler-leon/aeroflow/types"
)

// decisionKind 决策的内部判别标签
type decisionKind int

const (
	decisionUnset decisionKind = iota // 由路由函数决定下一步
	decisionContinue
	decisionHalt
	decisionDefer
)

// Decision tells the engine what to do after a step or router runs.
// The zero value means "consult the step's router".
type Decision struct {
	kind decisionKind
	next string
}

// Continue routes execution to the named step in the next superstep.
func Continue(stepID string) Decision {
	return Decision{kind: decisionContinue, next: stepID}
}

// Halt ends the turn: the workflow pauses awaiting external input and
// the current state is checkpointed as the turn's final state.
func Halt() Decision {
	return Decision{kind: decisionHalt}
}

// DeferToParent ends a nested workflow's run and hands control back to
// the enclosing workflow's routing. At the top level it behaves as Halt.
func DeferToParent() Decision {
	return Decision{kind: decisionDefer}
}

// IsZero reports whether the decision is unset.
func (d Decision) IsZero() bool { return d.kind == decisionUnset }

// IsHalt reports whether the decision halts the turn.
func (d Decision) IsHalt() bool { return d.kind == decisionHalt }

// IsDefer reports whether the decision defers to the parent workflow.
func (d Decision) IsDefer() bool { return d.kind == decisionDefer }

// Next returns the destination step when the decision is a Continue.
func (d Decision) Next() (string, bool) {
	return d.next, d.kind == decisionContinue
}

// Step is one unit of work. It reads the current state and returns a
// partial update plus an optional decision. A zero decision means the
// step's registered router picks the successor.
type Step interface {
	ID() string
	Run(ctx context.Context, st State) (Update, Decision, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(ctx context.Context, st State) (Update, Decision, error)

// FuncStep is a named StepFunc.
type FuncStep struct {
	id string
	fn StepFunc
}

// NewStep wraps fn as a Step with the given id.
func NewStep(id string, fn StepFunc) *FuncStep {
	return &FuncStep{id: id, fn: fn}
}

func (s *FuncStep) ID() string { return s.id }

func (s *FuncStep) Run(ctx context.Context, st State) (Update, Decision, error) {
	return s.fn(ctx, st)
}

// Router picks the next step from the merged state when the step itself
// returned no decision. Routers are pure: they must not mutate state.
type Router func(st State) Decision

// Definition is a validated, immutable workflow: a schema, a step set,
// per-step routers, and an entry step.
type Definition struct {
	name    string
	schema  *Schema
	entry   string
	steps   map[string]Step
	routers map[string]Router
}

// Name returns the workflow's registered name.
func (d *Definition) Name() string { return d.name }

// Schema returns the workflow's state schema.
func (d *Definition) Schema() *Schema { return d.schema }

// Entry returns the entry step's id.
func (d *Definition) Entry() string { return d.entry }

// Step looks up a step by id.
func (d *Definition) Step(id string) (Step, bool) {
	s, ok := d.steps[id]
	return s, ok
}

// Builder accumulates steps and routers and validates them into a
// Definition. Validation failures surface at Build time, before any
// turn runs.
type Builder struct {
	name    string
	schema  *Schema
	entry   string
	steps   map[string]Step
	routers map[string]Router
	errs    []error
}

// NewBuilder starts a workflow definition with the given name and schema.
func NewBuilder(name string, schema *Schema) *Builder {
	b := &Builder{
		name:    name,
		schema:  schema,
		steps:   make(map[string]Step),
		routers: make(map[string]Router),
	}
	if name == "" {
		b.errs = append(b.errs, types.NewError(types.ErrInvalidDefinition, "workflow name is empty"))
	}
	if schema == nil {
		b.errs = append(b.errs, types.NewError(types.ErrInvalidDefinition, "workflow schema is nil"))
	}
	return b
}

// AddStep registers a step. Duplicate ids are a Build error.
func (b *Builder) AddStep(s Step) *Builder {
	id := s.ID()
	if id == "" {
		b.errs = append(b.errs, types.NewError(types.ErrInvalidDefinition, "step with empty id"))
		return b
	}
	if _, dup := b.steps[id]; dup {
		b.errs = append(b.errs, types.NewError(types.ErrInvalidDefinition,
			fmt.Sprintf("step %q registered twice", id)))
		return b
	}
	b.steps[id] = s
	return b
}

// AddFunc registers a function step.
func (b *Builder) AddFunc(id string, fn StepFunc) *Builder {
	return b.AddStep(NewStep(id, fn))
}

// SetRouter attaches a router consulted when the named step returns a
// zero decision.
func (b *Builder) SetRouter(stepID string, r Router) *Builder {
	if _, dup := b.routers[stepID]; dup {
		b.errs = append(b.errs, types.NewError(types.ErrInvalidDefinition,
			fmt.Sprintf("router for step %q registered twice", stepID)))
		return b
	}
	b.routers[stepID] = r
	return b
}

// SetEntry names the step every fresh turn starts from.
func (b *Builder) SetEntry(stepID string) *Builder {
	b.entry = stepID
	return b
}

// Build validates the accumulated definition: the entry exists, every
// router is attached to a registered step, and no step can fall off the
// end silently (a step without a router must be able to decide on its own,
// which cannot be checked statically, so only structural errors are caught).
func (b *Builder) Build() (*Definition, error) {
	errs := b.errs
	if b.entry == "" {
		errs = append(errs, types.NewError(types.ErrInvalidDefinition, "no entry step set"))
	} else if _, ok := b.steps[b.entry]; !ok {
		errs = append(errs, types.NewError(types.ErrInvalidDefinition,
			fmt.Sprintf("entry step %q not registered", b.entry)))
	}
	for id := range b.routers {
		if _, ok := b.steps[id]; !ok {
			errs = append(errs, types.NewError(types.ErrInvalidDefinition,
				fmt.Sprintf("router attached to unknown step %q", id)))
		}
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &Definition{
		name:    b.name,
		schema:  b.schema,
		entry:   b.entry,
		steps:   b.steps,
		routers: b.routers,
	}, nil
}

// MustBuild is Build that panics, for package-level definitions.
func (b *Builder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
