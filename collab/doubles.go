package collab

import (
	"context"
	"strings"
	"sync"

	"github.com/traveler-leon/aeroflow/types"
)

// StaticReasoner always answers with the same text. Useful as a
// general_reply stand-in and in tests.
type StaticReasoner struct {
	Reply string
}

func (s *StaticReasoner) Reason(_ context.Context, _ []types.Message, _ string, _ ResponseShape) (string, error) {
	return s.Reply, nil
}

// ScriptedReasoner answers by matching a substring of the instructions
// against a script, falling back to a default reply. Responses for the
// same key are consumed in order, so a test can script "first call
// fails to parse, second succeeds".
type ScriptedReasoner struct {
	mu       sync.Mutex
	script   map[string][]string
	fallback string
	calls    []string
}

// NewScriptedReasoner creates a reasoner with the given fallback reply.
func NewScriptedReasoner(fallback string) *ScriptedReasoner {
	return &ScriptedReasoner{script: make(map[string][]string), fallback: fallback}
}

// On queues replies returned, in order, for instructions containing key.
// The last reply repeats once the queue is exhausted.
func (s *ScriptedReasoner) On(key string, replies ...string) *ScriptedReasoner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[key] = append(s.script[key], replies...)
	return s
}

func (s *ScriptedReasoner) Reason(_ context.Context, _ []types.Message, instructions string, _ ResponseShape) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, instructions)
	for key, replies := range s.script {
		if !strings.Contains(instructions, key) {
			continue
		}
		if len(replies) == 0 {
			continue
		}
		reply := replies[0]
		if len(replies) > 1 {
			s.script[key] = replies[1:]
		}
		return reply, nil
	}
	return s.fallback, nil
}

// Calls returns the instructions of every call made so far.
func (s *ScriptedReasoner) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
