package workflow

import "github.com/traveler-leon/aeroflow/types"

// MessagesOf reads the conversation log from the state.
func MessagesOf(st State, field string) []types.Message {
	msgs, _ := toMessages(st[field])
	return msgs
}

// IntOf reads an integer-valued field, tolerating the float64 a JSON
// checkpoint rehydration produces.
func IntOf(st State, field string) int {
	switch t := st[field].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

// BoolOf reads a boolean-valued field.
func BoolOf(st State, field string) bool {
	b, _ := st[field].(bool)
	return b
}

// StringOf reads a string-valued field.
func StringOf(st State, field string) string {
	s, _ := st[field].(string)
	return s
}

// Float64Of reads a float-valued field.
func Float64Of(st State, field string) float64 {
	switch t := st[field].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

// StringsOf reads a string-slice field, tolerating the []any a JSON
// rehydration produces.
func StringsOf(st State, field string) []string {
	switch t := st[field].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MapOf reads a map-valued field.
func MapOf(st State, field string) map[string]any {
	m, _ := st[field].(map[string]any)
	return m
}
