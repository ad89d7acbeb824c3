package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/agents"
	"github.com/traveler-leon/aeroflow/bizapi"
	"github.com/traveler-leon/aeroflow/checkpoint"
	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/flightdb"
	"github.com/traveler-leon/aeroflow/knowledge"
	"github.com/traveler-leon/aeroflow/types"
	"github.com/traveler-leon/aeroflow/workflow"
)

func redisSaver(t *testing.T, addr string) checkpoint.Saver {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return checkpoint.NewRedisSaver(client, "test", 0, zap.NewNop())
}

func airportDeps(t *testing.T, reasoner collab.Reasoner) agents.Deps {
	t.Helper()
	db, err := flightdb.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	return agents.Deps{
		Reasoner: reasoner,
		Searcher: knowledge.NewIndex(),
		Querier:  db,
		Business: bizapi.NewMock(zap.NewNop()),
		Logger:   zap.NewNop(),
	}
}

// pipelineDef 两步顺序流水线，每步各产出一条助手消息
func pipelineDef(t *testing.T) *workflow.Definition {
	t.Helper()
	schema := workflow.MustSchema(workflow.Field{Name: workflow.MessagesField, Reduce: workflow.Append})
	b := workflow.NewBuilder("pipeline", schema)
	b.AddFunc("first", func(_ context.Context, _ workflow.State) (workflow.Update, workflow.Decision, error) {
		return workflow.Update{
			workflow.MessagesField: types.NewAssistantMessage("pipeline", "第一步完成"),
		}, workflow.Continue("second"), nil
	})
	b.AddFunc("second", func(_ context.Context, _ workflow.State) (workflow.Update, workflow.Decision, error) {
		return workflow.Update{
			workflow.MessagesField: types.NewAssistantMessage("pipeline", "第二步完成"),
		}, workflow.Halt(), nil
	})
	b.SetEntry("first")
	return b.MustBuild()
}

func TestAdvanceUnknownWorkflow(t *testing.T) {
	orch, err := NewOrchestrator(Options{Saver: checkpoint.NewMemorySaver()})
	require.NoError(t, err)

	_, err = orch.Advance(context.Background(), "nope", "t1", "你好")
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestAdvanceStreamsEventsInOrder(t *testing.T) {
	orch, err := NewOrchestrator(Options{Saver: checkpoint.NewMemorySaver()})
	require.NoError(t, err)
	orch.Register(pipelineDef(t))

	turn, err := orch.Advance(context.Background(), "pipeline", "t1", "开始")
	require.NoError(t, err)

	var got []workflow.StepEvent
	for ev := range turn.Events() {
		got = append(got, ev)
	}
	require.NoError(t, turn.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].StepID)
	assert.Equal(t, "第一步完成", got[0].Text)
	assert.Equal(t, "second", got[1].StepID)
	assert.True(t, turn.Outcome().Halted)
}

func TestAdvanceResumesAcrossRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	reasoner := collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "flight_info", "confidence": 0.9}`).
		On("提取航班查询参数", `{}`, `{"flight_number": "CA1384"}`)

	// 第一个编排器实例：参数不全，停机等待用户补充
	orch1, err := NewOrchestrator(Options{Saver: redisSaver(t, mr.Addr())})
	require.NoError(t, err)
	orch1.Register(agents.NewRouterWorkflow(airportDeps(t, reasoner)))

	turn, err := orch1.Advance(ctx, agents.WorkflowID, "thread-1", "帮我查个航班")
	require.NoError(t, err)
	st, err := turn.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, turn.Outcome().Halted)
	assert.Equal(t, workflow.PhaseActive, workflow.StringOf(st, agents.FieldFlightPhase))

	// 重启模拟：全新实例从同一后端恢复线程并完成查询
	orch2, err := NewOrchestrator(Options{Saver: redisSaver(t, mr.Addr())})
	require.NoError(t, err)
	orch2.Register(agents.NewRouterWorkflow(airportDeps(t, reasoner)))

	turn, err = orch2.Advance(ctx, agents.WorkflowID, "thread-1", "航班号是CA1384")
	require.NoError(t, err)
	st, err = turn.Wait(ctx)
	require.NoError(t, err)

	msgs := workflow.MessagesOf(st, workflow.MessagesField)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "CA1384")
	assert.Equal(t, workflow.PhaseDone, workflow.StringOf(st, agents.FieldFlightPhase))

	// 两个用户消息都在恢复后的对话日志里
	var userTexts []string
	for _, m := range msgs {
		if m.Role == types.RoleUser {
			userTexts = append(userTexts, m.Content)
		}
	}
	assert.Equal(t, []string{"帮我查个航班", "航班号是CA1384"}, userTexts)
}

func TestTurnsOnOneThreadAreSerialized(t *testing.T) {
	saver := checkpoint.NewMemorySaver()
	orch, err := NewOrchestrator(Options{Saver: saver})
	require.NoError(t, err)

	started := make(chan string, 2)
	release := make(chan struct{})

	schema := workflow.MustSchema(workflow.Field{Name: workflow.MessagesField, Reduce: workflow.Append})
	b := workflow.NewBuilder("gated", schema)
	b.AddFunc("gate", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		msgs := workflow.MessagesOf(st, workflow.MessagesField)
		started <- msgs[len(msgs)-1].Content
		<-release
		return workflow.Update{
			workflow.MessagesField: types.NewAssistantMessage("gated", "完成"),
		}, workflow.Halt(), nil
	})
	b.SetEntry("gate")
	orch.Register(b.MustBuild())

	ctx := context.Background()
	turn1, err := orch.Advance(ctx, "gated", "t1", "第一轮")
	require.NoError(t, err)
	require.Equal(t, "第一轮", <-started)

	turn2, err := orch.Advance(ctx, "gated", "t1", "第二轮")
	require.NoError(t, err)

	// 第一轮未写完检查点前，第二轮不得进入工作流
	select {
	case got := <-started:
		t.Fatalf("second turn started before first finished: %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	_, err = turn1.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "第二轮", <-started)
	st, err := turn2.Wait(ctx)
	require.NoError(t, err)

	// 第二轮恢复时能看到第一轮的全部消息
	msgs := workflow.MessagesOf(st, workflow.MessagesField)
	require.Len(t, msgs, 4)

	latest, err := saver.Latest(ctx, "gated", "t1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.Seq)
}

func TestQueuedTurnsRunInArrivalOrder(t *testing.T) {
	orch, err := NewOrchestrator(Options{Saver: checkpoint.NewMemorySaver()})
	require.NoError(t, err)

	order := make(chan string, 4)
	release := make(chan struct{})

	schema := workflow.MustSchema(workflow.Field{Name: workflow.MessagesField, Reduce: workflow.Append})
	b := workflow.NewBuilder("queued", schema)
	b.AddFunc("gate", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		msgs := workflow.MessagesOf(st, workflow.MessagesField)
		text := msgs[len(msgs)-1].Content
		order <- text
		if text == "第一轮" {
			<-release
		}
		return workflow.Update{
			workflow.MessagesField: types.NewAssistantMessage("queued", "完成"),
		}, workflow.Halt(), nil
	})
	b.SetEntry("gate")
	orch.Register(b.MustBuild())

	ctx := context.Background()
	first, err := orch.Advance(ctx, "queued", "t1", "第一轮")
	require.NoError(t, err)
	require.Equal(t, "第一轮", <-order)

	// 第一轮持有线程期间积压三轮，完成顺序必须等于 Advance 调用顺序
	queued := []string{"第二轮", "第三轮", "第四轮"}
	turns := make([]*Turn, 0, len(queued))
	for _, text := range queued {
		turn, err := orch.Advance(ctx, "queued", "t1", text)
		require.NoError(t, err)
		turns = append(turns, turn)
	}

	close(release)
	_, err = first.Wait(ctx)
	require.NoError(t, err)
	for _, turn := range turns {
		_, err = turn.Wait(ctx)
		require.NoError(t, err)
	}

	for _, want := range queued {
		assert.Equal(t, want, <-order)
	}
}

func TestSummarizeDoesNotMutateThread(t *testing.T) {
	ctx := context.Background()
	reasoner := collab.NewScriptedReasoner("").
		On("意图类别", `{"intent": "other", "confidence": 0.8}`).
		On("一般性问题", "您好！很高兴为您服务。").
		On("总结", "用户打了招呼，客服做了问候回应。")

	saver := checkpoint.NewMemorySaver()
	orch, err := NewOrchestrator(Options{Saver: saver, Reasoner: reasoner})
	require.NoError(t, err)
	orch.Register(agents.NewRouterWorkflow(airportDeps(t, reasoner)))

	turn, err := orch.Advance(ctx, agents.WorkflowID, "t1", "你好")
	require.NoError(t, err)
	_, err = turn.Wait(ctx)
	require.NoError(t, err)

	before, err := saver.Latest(ctx, agents.WorkflowID, "t1")
	require.NoError(t, err)
	require.NotNil(t, before)

	summary, err := orch.Summarize(ctx, agents.WorkflowID, "t1")
	require.NoError(t, err)
	assert.Contains(t, summary, "问候")

	after, err := saver.Latest(ctx, agents.WorkflowID, "t1")
	require.NoError(t, err)
	assert.Equal(t, before.Seq, after.Seq)
}

func TestSummarizeEmptyThread(t *testing.T) {
	orch, err := NewOrchestrator(Options{
		Saver:    checkpoint.NewMemorySaver(),
		Reasoner: &collab.StaticReasoner{Reply: "summary"},
	})
	require.NoError(t, err)
	orch.Register(pipelineDef(t))

	_, err = orch.Summarize(context.Background(), "pipeline", "empty")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestTurnTimeoutAbandonsUncheckpointedWork(t *testing.T) {
	saver := checkpoint.NewMemorySaver()
	orch, err := NewOrchestrator(Options{Saver: saver, TurnTimeout: 30 * time.Millisecond})
	require.NoError(t, err)

	schema := workflow.MustSchema(workflow.Field{Name: workflow.MessagesField, Reduce: workflow.Append})
	b := workflow.NewBuilder("stuck", schema)
	b.AddFunc("hang", func(ctx context.Context, _ workflow.State) (workflow.Update, workflow.Decision, error) {
		<-ctx.Done()
		return nil, workflow.Decision{}, ctx.Err()
	})
	b.SetEntry("hang")
	orch.Register(b.MustBuild())

	ctx := context.Background()
	turn, err := orch.Advance(ctx, "stuck", "t1", "你好")
	require.NoError(t, err)
	_, err = turn.Wait(ctx)
	require.Error(t, err)

	// 超时的超步没有留下任何检查点
	latest, err := saver.Latest(ctx, "stuck", "t1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestResetDropsThread(t *testing.T) {
	ctx := context.Background()
	saver := checkpoint.NewMemorySaver()
	orch, err := NewOrchestrator(Options{Saver: saver})
	require.NoError(t, err)
	orch.Register(pipelineDef(t))

	turn, err := orch.Advance(ctx, "pipeline", "t1", "开始")
	require.NoError(t, err)
	_, err = turn.Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, orch.Reset(ctx, "pipeline", "t1"))
	latest, err := saver.Latest(ctx, "pipeline", "t1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
