// Package contextwindow assembles the message slice handed to a
// reasoning collaborator from a thread's full conversation log. Both
// builders are pure functions of the log: same input, same output.
package contextwindow

import (
	"github.com/traveler-leon/aeroflow/types"
)

// RouterRole 顶层路由身份标签，其用户消息紧邻其回答之前
const RouterRole = "router"

// Options tunes a build. The zero value applies no token budget.
type Options struct {
	// Counter measures message text when Budget is set.
	Counter TokenCounter
	// Budget caps total tokens; oldest turns are dropped first.
	Budget int
}

// BuildPlain returns the most recent maxTurns exchanges for a plain
// reasoning call. Tool-invocation records and assistant messages that
// carry a pending action (tool calls, no user-facing text) are
// excluded. An exchange starts at a user message. Oldest first.
func BuildPlain(history []types.Message, maxTurns int, opts Options) []types.Message {
	if maxTurns <= 0 {
		return nil
	}
	filtered := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.Role == types.RoleTool {
			continue
		}
		if m.Role == types.RoleAssistant && m.PendingAction() {
			continue
		}
		filtered = append(filtered, m)
	}

	// 从尾部回扫，凑够 maxTurns 个用户消息为止
	start := 0
	users := 0
	for i := len(filtered) - 1; i >= 0; i-- {
		if filtered[i].Role == types.RoleUser {
			users++
			if users == maxTurns {
				start = i
				break
			}
		}
	}
	out := filtered[start:]
	return applyBudget(out, opts)
}

// BuildRoleScoped reconstructs up to maxTurns complete turns produced
// by one sub-workflow identity, walking the history backward. A turn is
// the role's own assistant message (matched by exact Name tag), the
// nearest preceding user message, and the directly preceding tool
// result when that result resolves a pending action from an earlier
// hand-off. Assistant messages tagged with other identities are skipped
// without consuming a turn slot. Turns are returned oldest first.
func BuildRoleScoped(history []types.Message, role string, maxTurns int, opts Options) []types.Message {
	if maxTurns <= 0 {
		return nil
	}
	var turns [][]types.Message

	i := len(history) - 1
	for i >= 0 && len(turns) < maxTurns {
		m := history[i]
		if m.Role != types.RoleAssistant || m.Name != role {
			i--
			continue
		}

		var turn []types.Message
		j := i - 1

		// 紧邻其前的工具结果仅在它确实回应某个待定动作时纳入
		if j >= 0 && history[j].Role == types.RoleTool && resolvesPendingAction(history, j) {
			turn = append(turn, history[j])
			j--
		}

		anchor := -1
		for k := j; k >= 0; k-- {
			if history[k].Role == types.RoleUser {
				anchor = k
				break
			}
		}
		if anchor >= 0 {
			turn = append([]types.Message{history[anchor]}, turn...)
			i = anchor - 1
		} else {
			i = j
		}
		turn = append(turn, m)
		turns = append(turns, turn)
	}

	var out []types.Message
	for k := len(turns) - 1; k >= 0; k-- {
		out = append(out, turns[k]...)
	}
	return applyBudget(out, opts)
}

// resolvesPendingAction reports whether the tool message at idx answers
// a tool call emitted by an earlier assistant message.
func resolvesPendingAction(history []types.Message, idx int) bool {
	callID := history[idx].ToolCallID
	if callID == "" {
		return false
	}
	for k := idx - 1; k >= 0; k-- {
		m := history[k]
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == callID {
				return true
			}
		}
	}
	return false
}

// applyBudget drops whole leading (oldest) messages until the sequence
// fits the token budget. Without a counter or budget it is a no-op.
func applyBudget(msgs []types.Message, opts Options) []types.Message {
	if opts.Budget <= 0 || opts.Counter == nil {
		return msgs
	}
	total := 0
	counts := make([]int, len(msgs))
	for i, m := range msgs {
		counts[i] = opts.Counter.Count(m.Content)
		total += counts[i]
	}
	start := 0
	for start < len(msgs)-1 && total > opts.Budget {
		total -= counts[start]
		start++
	}
	return msgs[start:]
}
