package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/contextwindow"
	"github.com/traveler-leon/aeroflow/workflow"
)

const handoverMessage = `非常抱歉，您的问题可能需要人工客服进一步处理。

我正在为您转接人工客服，稍后会有专业客服人员与您联系。

您也可以直接拨打客服热线：400-123-4567`

// WorkflowID 顶层工作流注册名
const WorkflowID = "airport_service"

// NewRouterWorkflow builds the top-level workflow: classify_intent
// routes each turn to the matching sub-workflow, to general_reply, or
// to human_handover when the classifier's confidence is below the
// floor. A sub-workflow interrupted mid-conversation (active phase)
// receives the next turn directly, bypassing re-classification.
func NewRouterWorkflow(deps Deps) *workflow.Definition {
	log := deps.logger().With(zap.String("workflow", WorkflowID))

	knowledgeDef := NewKnowledgeWorkflow(deps)
	flightDef := NewFlightWorkflow(deps)
	businessDef := NewBusinessWorkflow(deps)

	b := workflow.NewBuilder(WorkflowID, Schema())

	b.AddFunc("classify_intent", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		// 被打断的子流程优先接收后续输入
		for _, sub := range []struct{ phase, step string }{
			{FieldKnowledgePhase, RoleKnowledgeQA},
			{FieldFlightPhase, RoleFlightInfo},
			{FieldBusinessPhase, RoleBusinessService},
		} {
			if workflow.StringOf(st, sub.phase) == workflow.PhaseActive {
				return nil, workflow.Continue(sub.step), nil
			}
		}

		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptClassifyIntent, collab.ShapeStructured)
		if err != nil {
			log.Warn("intent classification failed", zap.Error(err))
			reply = ""
		}
		parsed, ok := collab.DecodeJSONMap(reply, map[string]any{"intent": "other", "confidence": 0.0})
		if !ok {
			log.Debug("no structured payload in intent classification, defaulting to other")
		}
		intent, _ := parsed["intent"].(string)
		confidence, _ := parsed["confidence"].(float64)
		return workflow.Update{
			FieldIntent:           intent,
			FieldIntentConfidence: confidence,
		}, workflow.Decision{}, nil
	})
	b.SetRouter("classify_intent", func(st workflow.State) workflow.Decision {
		if workflow.Float64Of(st, FieldIntentConfidence) < IntentConfidenceFloor {
			return workflow.Continue("human_handover")
		}
		switch workflow.StringOf(st, FieldIntent) {
		case RoleKnowledgeQA, RoleFlightInfo, RoleBusinessService:
			return workflow.Continue(workflow.StringOf(st, FieldIntent))
		default:
			return workflow.Continue("general_reply")
		}
	})

	b.AddStep(workflow.NewSubWorkflowStep(RoleKnowledgeQA, knowledgeDef, log).
		WithResetOnReentry(FieldClarifyCount))
	b.SetRouter(RoleKnowledgeQA, haltAfterSub)

	b.AddStep(workflow.NewSubWorkflowStep(RoleFlightInfo, flightDef, log).
		WithResetOnReentry(FieldFlightRetry, FieldFlightError))
	b.SetRouter(RoleFlightInfo, haltAfterSub)

	b.AddStep(workflow.NewSubWorkflowStep(RoleBusinessService, businessDef, log).
		WithResetOnReentry(FieldAwaitingConfirm, FieldServiceMissing))
	b.SetRouter(RoleBusinessService, haltAfterSub)

	b.AddFunc("general_reply", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptGeneralReply, collab.ShapeText)
		if err != nil || strings.TrimSpace(reply) == "" {
			log.Warn("general reply failed", zap.Error(err))
			reply = "您好，我是机场智能客服助手，可以为您查询航班信息、解答机场规定或办理值机等业务。请问有什么可以帮您？"
		}
		return workflow.Update{FieldMessages: say(RoleRouter, reply)}, workflow.Halt(), nil
	})

	b.AddFunc("human_handover", func(_ context.Context, _ workflow.State) (workflow.Update, workflow.Decision, error) {
		return workflow.Update{FieldMessages: say(RoleRouter, handoverMessage)}, workflow.Halt(), nil
	})

	b.SetEntry("classify_intent")
	return b.MustBuild()
}

// haltAfterSub ends the turn once a sub-workflow has finished its reply.
func haltAfterSub(_ workflow.State) workflow.Decision {
	return workflow.Halt()
}
