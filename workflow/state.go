package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/traveler-leon/aeroflow/types"
)

// ReducerKind 定义状态字段的合并规则。
type ReducerKind string

const (
	// Overwrite 新值替换旧值
	Overwrite ReducerKind = "overwrite"
	// Append 序列拼接，按消息 ID 去重以保证重放幂等
	Append ReducerKind = "append"
	// ShallowMerge 映射浅合并，新键覆盖同名旧键，其余保留
	ShallowMerge ReducerKind = "shallow-merge"
)

// MessagesField is the conventional name of the conversation-log field.
// The engine reads it to stream assistant output.
const MessagesField = "messages"

// Field declares one state field together with its fixed reducer.
type Field struct {
	Name    string
	Reduce  ReducerKind
	Default any
}

// Schema is a fixed, registration-time-validated mapping from field name
// to reducer kind. Every field resolves through exactly one reducer.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema builds a schema from field declarations.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, types.NewError(types.ErrInvalidDefinition, "schema field with empty name")
		}
		if _, dup := s.fields[f.Name]; dup {
			return nil, types.NewError(types.ErrInvalidDefinition,
				fmt.Sprintf("schema field %q declared twice", f.Name))
		}
		switch f.Reduce {
		case Overwrite, Append, ShallowMerge:
		default:
			return nil, types.NewError(types.ErrInvalidDefinition,
				fmt.Sprintf("schema field %q has unknown reducer %q", f.Name, f.Reduce))
		}
		s.fields[f.Name] = f
		s.order = append(s.order, f.Name)
	}
	return s, nil
}

// MustSchema is NewSchema that panics on declaration errors. Intended for
// package-level workflow definitions where a bad schema is a programming bug.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the declared field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether the schema declares the field.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Kind returns the reducer kind declared for the field.
func (s *Schema) Kind(name string) (ReducerKind, bool) {
	f, ok := s.fields[name]
	return f.Reduce, ok
}

// Default returns a fresh copy of the field's default value.
func (s *Schema) Default(name string) any {
	f, ok := s.fields[name]
	if !ok {
		return nil
	}
	return copyValue(f.Default)
}

// State is the mergeable data a workflow operates on.
type State map[string]any

// Update is a partial state produced by a single step.
type Update map[string]any

// NewState returns a state populated with every schema default.
func (s *Schema) NewState() State {
	st := make(State, len(s.fields))
	for name := range s.fields {
		st[name] = s.Default(name)
	}
	return st
}

// Apply merges a partial update into the state through the per-field
// reducers and returns the resulting state. The input state is not
// mutated. Updating an undeclared field is an error.
func (s *Schema) Apply(st State, up Update) (State, error) {
	out := st.Clone()
	for name, val := range up {
		f, ok := s.fields[name]
		if !ok {
			return nil, types.NewError(types.ErrInvalidDefinition,
				fmt.Sprintf("update targets undeclared field %q", name))
		}
		switch f.Reduce {
		case Overwrite:
			out[name] = val
		case Append:
			merged, err := appendMessages(out[name], val)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			out[name] = merged
		case ShallowMerge:
			merged, err := shallowMerge(out[name], val)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			out[name] = merged
		}
	}
	return out, nil
}

// Clone returns a copy of the state. Message slices and merge maps are
// copied one level deep, which is all the reducers ever mutate.
func (st State) Clone() State {
	out := make(State, len(st))
	for k, v := range st {
		out[k] = copyValue(v)
	}
	return out
}

// Normalize rebuilds reducer-typed fields after a JSON round-trip
// (checkpoint load): append fields back to []types.Message, merge fields
// back to map[string]any. Missing fields get their defaults so older
// checkpoints stay loadable after schema additions.
func (s *Schema) Normalize(raw map[string]any) (State, error) {
	st := make(State, len(s.fields))
	for name, f := range s.fields {
		v, ok := raw[name]
		if !ok || v == nil {
			st[name] = s.Default(name)
			continue
		}
		switch f.Reduce {
		case Append:
			msgs, err := toMessages(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			st[name] = msgs
		case ShallowMerge:
			m, err := toStringMap(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			st[name] = m
		default:
			st[name] = v
		}
	}
	return st, nil
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []types.Message:
		out := make([]types.Message, len(t))
		copy(out, t)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// appendMessages concatenates new messages onto the existing log,
// skipping any message whose ID is already present so that replaying
// the same update never duplicates entries.
func appendMessages(current, update any) ([]types.Message, error) {
	base, err := toMessages(current)
	if err != nil {
		return nil, err
	}
	var add []types.Message
	switch t := update.(type) {
	case nil:
		return base, nil
	case types.Message:
		add = []types.Message{t}
	default:
		add, err = toMessages(update)
		if err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{}, len(base))
	for _, m := range base {
		seen[m.ID] = struct{}{}
	}
	out := make([]types.Message, len(base), len(base)+len(add))
	copy(out, base)
	for _, m := range add {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}
	return out, nil
}

func shallowMerge(current, update any) (map[string]any, error) {
	base, err := toStringMap(current)
	if err != nil {
		return nil, err
	}
	if update == nil {
		return base, nil
	}
	over, err := toStringMap(update)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out, nil
}

func toMessages(v any) ([]types.Message, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []types.Message:
		return t, nil
	default:
		// JSON round-trip covers []any of decoded maps after checkpoint load.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("not a message sequence: %w", err)
		}
		var msgs []types.Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("not a message sequence: %w", err)
		}
		return msgs, nil
	}
}

func toStringMap(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	default:
		return nil, fmt.Errorf("not a mergeable map: %T", v)
	}
}
