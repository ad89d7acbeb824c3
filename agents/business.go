package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/bizapi"
	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/contextwindow"
	"github.com/traveler-leon/aeroflow/workflow"
)

// 确认/取消指示词，按序匹配；出现任一否定词时肯定匹配无效
var (
	affirmativeTokens = []string{"确认", "是", "yes", "确定", "可以", "同意", "好", "好的", "没问题", "正确", "对"}
	negativeTokens    = []string{"取消", "否", "no", "不", "不要", "不行", "算了", "拒绝", "错误", "不对"}
)

// classifyConfirmation returns (confirmed, cancelled). A reply that
// matches both lists is treated as cancelled, never confirmed.
func classifyConfirmation(reply string) (bool, bool) {
	confirmed := false
	for _, tok := range affirmativeTokens {
		if strings.Contains(reply, tok) {
			confirmed = true
			break
		}
	}
	cancelled := false
	for _, tok := range negativeTokens {
		if strings.Contains(reply, tok) {
			cancelled = true
			break
		}
	}
	if cancelled {
		return false, true
	}
	return confirmed, false
}

// paramLabels 参数名到用户可读名称
var paramLabels = map[string]string{
	"flight_number":    "航班号",
	"passenger_name":   "乘机人姓名",
	"new_date":         "新的出行日期",
	"baggage_weight":   "行李重量",
	"item_description": "物品描述",
	"seat_preference":  "座位偏好",
	"refund_reason":    "退票原因",
	"loss_location":    "遗失地点",
	"loss_time":        "遗失时间",
}

func labelOf(field string) string {
	if l, ok := paramLabels[field]; ok {
		return l
	}
	return field
}

func missingServiceParams(serviceType string, params map[string]any) []string {
	var missing []string
	for _, f := range bizapi.RequiredParams(serviceType) {
		if s, _ := params[f].(string); strings.TrimSpace(s) == "" {
			if _, isNum := params[f].(float64); !isNum {
				missing = append(missing, f)
			}
		}
	}
	return missing
}

// NewBusinessWorkflow builds the business-transaction sub-workflow:
// identify_type -> (confirm_type) -> collect_params -> (request_missing)
// -> confirm_operation -> process_user_confirmation -> call_external_api
// -> format_result | report_error. An explicit cancellation halts with
// a cancellation message and never reaches the business API; an
// ambiguous confirmation re-prompts and stays at the confirmation
// state without consuming any retry budget.
func NewBusinessWorkflow(deps Deps) *workflow.Definition {
	log := deps.logger().With(zap.String("workflow", RoleBusinessService))

	b := workflow.NewBuilder(RoleBusinessService, Schema())

	b.AddFunc("identify_type", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		// 等待确认期间的新输入直接交给确认处理
		if workflow.BoolOf(st, FieldAwaitingConfirm) {
			return nil, workflow.Continue("process_user_confirmation"), nil
		}

		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptIdentifyService, collab.ShapeStructured)
		if err != nil {
			log.Warn("service identification failed", zap.Error(err))
			reply = ""
		}
		parsed, ok := collab.DecodeJSONMap(reply, map[string]any{
			"service_type": "", "confidence": 0.0, "params": map[string]any{},
		})
		if !ok {
			log.Debug("no structured payload in service identification, using defaults")
		}

		serviceType, _ := parsed["service_type"].(string)
		confidence, _ := parsed["confidence"].(float64)
		up := workflow.Update{
			FieldServiceType:       serviceType,
			FieldServiceConfidence: confidence,
		}
		if params, ok := parsed["params"].(map[string]any); ok && len(params) > 0 {
			up[FieldServiceParams] = params
		}
		return up, workflow.Decision{}, nil
	})
	b.SetRouter("identify_type", func(st workflow.State) workflow.Decision {
		if workflow.StringOf(st, FieldServiceType) == "" ||
			workflow.Float64Of(st, FieldServiceConfidence) < ServiceConfidenceFloor {
			return workflow.Continue("confirm_type")
		}
		return workflow.Continue("collect_params")
	})

	b.AddFunc("confirm_type", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		serviceType := workflow.StringOf(st, FieldServiceType)
		var text string
		if serviceType == "" {
			text = "请问您想办理哪项业务？我可以为您办理：值机、改签、退票、行李托运、遗失物品查询。"
		} else {
			text = fmt.Sprintf("请问您是想办理「%s」业务吗？如果不是，请告诉我您需要办理的业务类型。", serviceType)
		}
		return workflow.Update{FieldMessages: say(RoleBusinessService, text)}, workflow.Halt(), nil
	})

	b.AddFunc("collect_params", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptCollectServiceParams, collab.ShapeStructured)
		if err != nil {
			log.Warn("param collection failed", zap.Error(err))
			reply = ""
		}
		parsed, _ := collab.DecodeJSONMap(reply, map[string]any{"params": map[string]any{}})

		up := workflow.Update{}
		if params, ok := parsed["params"].(map[string]any); ok && len(params) > 0 {
			clean := map[string]any{}
			for k, v := range params {
				if s, ok := v.(string); !ok || strings.TrimSpace(s) != "" {
					clean[k] = v
				}
			}
			if len(clean) > 0 {
				up[FieldServiceParams] = clean
			}
		}
		return up, workflow.Decision{}, nil
	})
	b.SetRouter("collect_params", func(st workflow.State) workflow.Decision {
		missing := missingServiceParams(workflow.StringOf(st, FieldServiceType), workflow.MapOf(st, FieldServiceParams))
		if len(missing) > 0 {
			return workflow.Continue("request_missing")
		}
		return workflow.Continue("confirm_operation")
	})

	b.AddFunc("request_missing", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		missing := workflow.StringsOf(st, FieldServiceMissing)
		if len(missing) == 0 {
			missing = missingServiceParams(workflow.StringOf(st, FieldServiceType), workflow.MapOf(st, FieldServiceParams))
		}
		labels := make([]string, 0, len(missing))
		for _, f := range missing {
			labels = append(labels, labelOf(f))
		}
		text := fmt.Sprintf("办理%s业务还需要以下信息：%s。请提供后我来为您办理。",
			workflow.StringOf(st, FieldServiceType), strings.Join(labels, "、"))
		return workflow.Update{
			FieldMessages:       say(RoleBusinessService, text),
			FieldServiceMissing: []string{},
		}, workflow.Halt(), nil
	})

	b.AddFunc("confirm_operation", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		serviceType := workflow.StringOf(st, FieldServiceType)
		params := workflow.MapOf(st, FieldServiceParams)

		var sb strings.Builder
		fmt.Fprintf(&sb, "请确认以下%s业务信息：\n\n", serviceType)
		for _, f := range bizapi.RequiredParams(serviceType) {
			if v, ok := params[f]; ok {
				fmt.Fprintf(&sb, "- %s：%v\n", labelOf(f), v)
			}
		}
		sb.WriteString("\n是否确认办理？请回复\"确认\"或\"取消\"。")
		return workflow.Update{
			FieldMessages:        say(RoleBusinessService, sb.String()),
			FieldAwaitingConfirm: true,
		}, workflow.Halt(), nil
	})

	b.AddFunc("process_user_confirmation", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		confirmed, cancelled := classifyConfirmation(latestUserContent(st))
		switch {
		case cancelled:
			return workflow.Update{
				FieldMessages:        say(RoleBusinessService, "已取消业务办理。如果您需要其他帮助，请随时告诉我。"),
				FieldAwaitingConfirm: false,
			}, workflow.DeferToParent(), nil
		case confirmed:
			return workflow.Update{FieldAwaitingConfirm: false}, workflow.Continue("call_external_api"), nil
		default:
			// 含糊答复：重新提示并停在确认状态，不消耗任何重试配额
			return workflow.Update{
				FieldMessages: say(RoleBusinessService, "抱歉，我没有理解您的意思。请明确回复\"确认\"继续办理，或回复\"取消\"终止办理。"),
			}, workflow.Halt(), nil
		}
	})

	b.AddFunc("call_external_api", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		serviceType := workflow.StringOf(st, FieldServiceType)
		res, err := deps.Business.Call(ctx, serviceType, workflow.MapOf(st, FieldServiceParams))
		if err != nil {
			log.Warn("business api call failed", zap.Error(err))
			return workflow.Update{FieldServiceResult: map[string]any{"error": err.Error()}}, workflow.Continue("report_error"), nil
		}
		if res.Success {
			return workflow.Update{FieldServiceResult: res.Data}, workflow.Continue("format_result"), nil
		}
		if res.ErrorCode == "MISSING_PARAMS" {
			return workflow.Update{FieldServiceMissing: res.MissingFields}, workflow.Continue("request_missing"), nil
		}
		return workflow.Update{FieldServiceResult: map[string]any{"error": res.Error}}, workflow.Continue("report_error"), nil
	})

	b.AddFunc("report_error", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		reason, _ := workflow.MapOf(st, FieldServiceResult)["error"].(string)
		text := fmt.Sprintf("抱歉，%s业务暂时无法办理：%s。您可以稍后重试，前往人工柜台办理，或拨打客服热线400-123-4567。",
			workflow.StringOf(st, FieldServiceType), reason)
		return workflow.Update{FieldMessages: say(RoleBusinessService, text)}, workflow.DeferToParent(), nil
	})

	b.AddFunc("format_result", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		serviceType := workflow.StringOf(st, FieldServiceType)
		data := workflow.MapOf(st, FieldServiceResult)

		var text string
		switch serviceType {
		case bizapi.ServiceCheckIn:
			text = fmt.Sprintf("值机办理成功！座位号：%v，登机口：%v，登机时间：%v。祝您旅途愉快！",
				data["seat"], data["gate"], data["boarding_time"])
		case bizapi.ServiceRebook:
			text = fmt.Sprintf("改签办理成功！新的出行日期：%v，改签费用：%v元。",
				data["new_date"], data["change_fee"])
		case bizapi.ServiceRefund:
			text = fmt.Sprintf("退票办理成功！退票手续费：%v元，实际退款：%v元，将在7个工作日内原路退回。",
				data["refund_fee"], data["actual_refund"])
		case bizapi.ServiceBaggage:
			text = fmt.Sprintf("行李托运办理成功！行李牌号：%v，超重费用：%v元。",
				data["baggage_tag"], data["excess_fee"])
		case bizapi.ServiceLostFound:
			text = fmt.Sprintf("已为您登记遗失物品查询，受理编号：%v。%v",
				data["case_id"], data["notice"])
		default:
			text = fmt.Sprintf("%s业务办理成功。", serviceType)
		}
		return workflow.Update{FieldMessages: say(RoleBusinessService, text)}, workflow.DeferToParent(), nil
	})

	b.SetEntry("identify_type")
	return b.MustBuild()
}
