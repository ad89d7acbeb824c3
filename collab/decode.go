package collab

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the JSON object embedded in a reasoning reply:
// everything from the first '{' to the last '}'. Returns false when no
// braces are present.
func ExtractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// DecodeJSON extracts and unmarshals the embedded payload into out.
// Returns false when the payload is absent or malformed; the caller
// then proceeds with its pre-declared defaults instead of failing the
// turn.
func DecodeJSON(text string, out any) bool {
	payload, ok := ExtractJSON(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(payload), out) == nil
}

// DecodeJSONMap overlays the extracted payload's fields onto a copy of
// defaults. The second return reports whether a payload was actually
// decoded; on false the result is exactly the defaults.
func DecodeJSONMap(text string, defaults map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	var parsed map[string]any
	if !DecodeJSON(text, &parsed) {
		return out, false
	}
	for k, v := range parsed {
		out[k] = v
	}
	return out, true
}
