package agents

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/workflow"
)

func checkInReasoner() *collab.ScriptedReasoner {
	return collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "business_service", "confidence": 0.9}`).
		On("想办理的业务类型", `{"service_type": "值机", "confidence": 0.9, "params": {"flight_number": "CA1384", "passenger_name": "张三"}}`).
		On("业务办理所需的参数", `{"params": {}}`)
}

func TestBusinessConfirmThenProcess(t *testing.T) {
	deps, api := testDeps(t, checkInReasoner())
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我办理CA1384的值机，乘机人张三")

	require.Contains(t, lastAssistantText(st), "是否确认办理")
	require.True(t, workflow.BoolOf(st, FieldAwaitingConfirm))
	require.Equal(t, 0, api.ProcessedCount())

	st, _ = runTurn(t, eng, st, "确认")

	require.Contains(t, lastAssistantText(st), "值机办理成功")
	require.Equal(t, 1, api.ProcessedCount())
	require.False(t, workflow.BoolOf(st, FieldAwaitingConfirm))
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldBusinessPhase))
}

func TestBusinessCancellationNeverCallsAPI(t *testing.T) {
	deps, api := testDeps(t, checkInReasoner())
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我办理CA1384的值机，乘机人张三")
	st, _ = runTurn(t, eng, st, "取消")

	require.Contains(t, lastAssistantText(st), "已取消业务办理")
	require.Equal(t, 0, api.ProcessedCount())
	require.False(t, workflow.BoolOf(st, FieldAwaitingConfirm))
	require.Equal(t, workflow.PhaseDone, workflow.StringOf(st, FieldBusinessPhase))
}

func TestBusinessMixedReplyTreatedAsCancellation(t *testing.T) {
	// “不，确认”同时命中肯定词和否定词，按取消处理
	deps, api := testDeps(t, checkInReasoner())
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我办理CA1384的值机，乘机人张三")
	st, _ = runTurn(t, eng, st, "不，确认")

	require.Contains(t, lastAssistantText(st), "已取消业务办理")
	require.Equal(t, 0, api.ProcessedCount())
}

func TestBusinessAmbiguousReplyReprompts(t *testing.T) {
	deps, api := testDeps(t, checkInReasoner())
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我办理CA1384的值机，乘机人张三")

	// 含糊答复只重新提示，继续等待确认
	st, _ = runTurn(t, eng, st, "请稍等")
	require.Contains(t, lastAssistantText(st), "请明确回复")
	require.True(t, workflow.BoolOf(st, FieldAwaitingConfirm))
	require.Equal(t, 0, api.ProcessedCount())

	st, _ = runTurn(t, eng, st, "确认")
	require.Contains(t, lastAssistantText(st), "值机办理成功")
	require.Equal(t, 1, api.ProcessedCount())
}

func TestBusinessRequestsMissingParams(t *testing.T) {
	reasoner := collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "business_service", "confidence": 0.9}`).
		On("想办理的业务类型", `{"service_type": "值机", "confidence": 0.9, "params": {"flight_number": "CA1384"}}`).
		On("业务办理所需的参数",
			`{"params": {}}`,
			`{"params": {"passenger_name": "张三"}}`)
	deps, api := testDeps(t, reasoner)
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st := Schema().NewState()
	st, _ = runTurn(t, eng, st, "帮我办理CA1384的值机")

	require.Contains(t, lastAssistantText(st), "乘机人姓名")
	require.Equal(t, 0, api.ProcessedCount())

	// 补齐参数后进入确认，确认后成功办理
	st, _ = runTurn(t, eng, st, "乘机人是张三")
	require.Contains(t, lastAssistantText(st), "张三")
	require.True(t, workflow.BoolOf(st, FieldAwaitingConfirm))

	st, _ = runTurn(t, eng, st, "确认")
	require.Contains(t, lastAssistantText(st), "值机办理成功")
	require.Equal(t, 1, api.ProcessedCount())
}

func TestBusinessLowConfidenceAsksTypeConfirmation(t *testing.T) {
	reasoner := collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "business_service", "confidence": 0.9}`).
		On("想办理的业务类型", `{"service_type": "值机", "confidence": 0.4, "params": {}}`)
	deps, api := testDeps(t, reasoner)
	eng := workflow.NewEngine(NewRouterWorkflow(deps), nil, zap.NewNop())

	st, _ := runTurn(t, eng, Schema().NewState(), "我想办点业务")

	require.Contains(t, lastAssistantText(st), "请问您是想办理「值机」业务吗")
	require.Equal(t, 0, api.ProcessedCount())
}

func TestClassifyConfirmation(t *testing.T) {
	cases := []struct {
		reply     string
		confirmed bool
		cancelled bool
	}{
		{"确认", true, false},
		{"好的，没问题", true, false},
		{"yes", true, false},
		{"取消", false, true},
		{"不要", false, true},
		{"不，确认", false, true},
		{"算了吧", false, true},
		{"请稍等", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		confirmed, cancelled := classifyConfirmation(c.reply)
		require.Equal(t, c.confirmed, confirmed, "reply=%q", c.reply)
		require.Equal(t, c.cancelled, cancelled, "reply=%q", c.reply)
	}
}
