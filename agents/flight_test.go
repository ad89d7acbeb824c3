package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/workflow"
)

// flakyQuerier wraps a real querier and fails the first n Run calls.
type flakyQuerier struct {
	inner    collab.Querier
	failures int
	runCalls int
}

func (f *flakyQuerier) BuildQuery(ctx context.Context, params map[string]any) (string, error) {
	return f.inner.BuildQuery(ctx, params)
}

func (f *flakyQuerier) Run(ctx context.Context, query string) ([]map[string]any, error) {
	f.runCalls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("数据库连接超时")
	}
	return f.inner.Run(ctx, query)
}

func flightReasoner() *collab.ScriptedReasoner {
	return collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "flight_info", "confidence": 0.9}`).
		On("提取航班查询参数", `{"flight_number": "CA1384"}`)
}

func TestFlightQuerySuccess(t *testing.T) {
	deps, _ := testDeps(t, flightReasoner())
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st, _ := runTurn(t, eng, Schema().NewState(), "帮我查一下CA1384")

	text := lastAssistantText(st)
	require.Contains(t, text, "CA1384")
	require.Contains(t, text, "准点")
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldFlightPhase))
	require.Equal(t, 0, workflow.IntOf(st, FieldFlightRetry))
}

func TestFlightQueryNoMatch(t *testing.T) {
	reasoner := collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "flight_info", "confidence": 0.9}`).
		On("提取航班查询参数", `{"flight_number": "CA9999"}`)
	deps, _ := testDeps(t, reasoner)
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st, _ := runTurn(t, eng, Schema().NewState(), "查一下CA9999")

	require.Contains(t, lastAssistantText(st), "未查询到")
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldFlightPhase))
}

func TestFlightQueryDegradesToBroadQuery(t *testing.T) {
	deps, _ := testDeps(t, flightReasoner())
	flaky := &flakyQuerier{inner: deps.Querier, failures: 1}
	deps.Querier = flaky
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	// 首次查询失败后降级为宽泛查询并成功
	st, _ := runTurn(t, eng, Schema().NewState(), "帮我查一下CA1384")

	require.Equal(t, 2, flaky.runCalls)
	require.Equal(t, 1, workflow.IntOf(st, FieldFlightRetry))
	require.Contains(t, lastAssistantText(st), "为您查询到")
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldFlightPhase))
}

func TestFlightQueryTechnicalErrorThenRecovery(t *testing.T) {
	deps, _ := testDeps(t, flightReasoner())
	flaky := &flakyQuerier{inner: deps.Querier, failures: 2}
	deps.Querier = flaky
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	// 第一轮：原查询和降级查询都失败，报告技术问题
	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我查一下CA1384")

	require.Equal(t, 2, flaky.runCalls)
	require.Contains(t, lastAssistantText(st), "技术问题")
	require.Contains(t, lastAssistantText(st), "400-123-4567")
	require.Equal(t, 2, workflow.IntOf(st, FieldFlightRetry))
	require.NotEmpty(t, workflow.StringOf(st, FieldFlightError))
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldFlightPhase))

	// 第二轮：数据库恢复，重入子流程时重试计数已重置
	st, _ = runTurn(t, eng, st, "再帮我查一次CA1384")

	require.Contains(t, lastAssistantText(st), "CA1384")
	require.Equal(t, 0, workflow.IntOf(st, FieldFlightRetry))
	require.Empty(t, workflow.StringOf(st, FieldFlightError))
}
