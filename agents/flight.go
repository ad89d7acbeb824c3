package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/collab"
	"github.com/traveler-leon/aeroflow/contextwindow"
	"github.com/traveler-leon/aeroflow/workflow"
)

// flightParamsComplete 航班号齐备，或出发与到达城市齐备
func flightParamsComplete(params map[string]any) bool {
	get := func(k string) string {
		s, _ := params[k].(string)
		return strings.TrimSpace(s)
	}
	if get("flight_number") != "" {
		return true
	}
	return get("departure_city") != "" && get("arrival_city") != ""
}

// NewFlightWorkflow builds the flight-lookup sub-workflow:
// extract_params -> (request_params) -> build_query -> execute_query
// -> (degrade_to_broad_query on failure, retries bounded) ->
// format_result -> (simplify) -> deliver_result. Two failed attempts
// surface a technical-error message instead of retrying further.
func NewFlightWorkflow(deps Deps) *workflow.Definition {
	log := deps.logger().With(zap.String("workflow", RoleFlightInfo))

	b := workflow.NewBuilder(RoleFlightInfo, Schema())

	b.AddFunc("extract_params", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptExtractFlightParams, collab.ShapeStructured)
		if err != nil {
			log.Warn("flight param extraction failed", zap.Error(err))
			reply = ""
		}
		parsed, ok := collab.DecodeJSONMap(reply, map[string]any{})
		if !ok {
			log.Debug("no structured payload in flight extraction, keeping existing params")
		}

		up := map[string]any{}
		for _, k := range []string{"flight_number", "airline", "departure_city", "arrival_city", "status"} {
			if v, ok := parsed[k].(string); ok && strings.TrimSpace(v) != "" {
				up[k] = strings.TrimSpace(v)
			}
		}
		return workflow.Update{FieldFlightParams: up}, workflow.Decision{}, nil
	})
	b.SetRouter("extract_params", func(st workflow.State) workflow.Decision {
		if flightParamsComplete(workflow.MapOf(st, FieldFlightParams)) {
			return workflow.Continue("build_query")
		}
		return workflow.Continue("request_params")
	})

	b.AddFunc("request_params", func(_ context.Context, _ workflow.State) (workflow.Update, workflow.Decision, error) {
		text := "为了查询航班信息，请提供航班号（如CA1384），或者出发城市和到达城市。"
		return workflow.Update{FieldMessages: say(RoleFlightInfo, text)}, workflow.Halt(), nil
	})

	b.AddFunc("build_query", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		query, err := deps.Querier.BuildQuery(ctx, workflow.MapOf(st, FieldFlightParams))
		if err != nil {
			log.Warn("flight query build failed", zap.Error(err))
			return nil, workflow.Continue("request_params"), nil
		}
		return workflow.Update{FieldFlightQuery: query}, workflow.Continue("execute_query"), nil
	})

	b.AddFunc("execute_query", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		rows, err := deps.Querier.Run(ctx, workflow.StringOf(st, FieldFlightQuery))
		if err != nil {
			retry := workflow.IntOf(st, FieldFlightRetry) + 1
			log.Warn("flight query failed", zap.Int("retry", retry), zap.Error(err))
			return workflow.Update{
				FieldFlightRetry: retry,
				FieldFlightError: err.Error(),
			}, workflow.Decision{}, nil
		}
		out := make([]any, 0, len(rows))
		for _, r := range rows {
			out = append(out, r)
		}
		return workflow.Update{FieldFlightRows: out, FieldFlightError: ""}, workflow.Continue("format_result"), nil
	})
	b.SetRouter("execute_query", func(st workflow.State) workflow.Decision {
		if workflow.IntOf(st, FieldFlightRetry) < MaxQueryRetries {
			return workflow.Continue("degrade_to_broad_query")
		}
		return workflow.Continue("report_technical_error")
	})

	b.AddFunc("degrade_to_broad_query", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		broad := map[string]any{"broad": true}
		for k, v := range workflow.MapOf(st, FieldFlightParams) {
			if k != "broad" {
				broad[k] = v
			}
		}
		query, err := deps.Querier.BuildQuery(ctx, broad)
		if err != nil {
			return nil, workflow.Continue("report_technical_error"), nil
		}
		return workflow.Update{FieldFlightQuery: query}, workflow.Continue("execute_query"), nil
	})

	b.AddFunc("report_technical_error", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		text := fmt.Sprintf("抱歉，查询航班信息时遇到了技术问题：%s。请稍后再试，或者联系人工客服、拨打热线400-123-4567。",
			workflow.StringOf(st, FieldFlightError))
		return workflow.Update{FieldMessages: say(RoleFlightInfo, text)}, workflow.DeferToParent(), nil
	})

	b.AddFunc("format_result", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		rows, _ := st[FieldFlightRows].([]any)
		if len(rows) == 0 {
			return workflow.Update{
				FieldFlightAnswer: "未查询到符合条件的航班。请确认航班号或城市信息是否正确，也可以换个日期再查一次。",
			}, workflow.Decision{}, nil
		}
		var sb strings.Builder
		sb.WriteString("为您查询到以下航班信息：\n")
		for _, r := range rows {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("%v（%v）%v→%v，起飞%v，%v登机口%v，状态：%v",
				m["flight_number"], m["airline"],
				m["departure_city"], m["arrival_city"],
				m["departure_time"], m["terminal"], m["gate"], m["status"])
			if d := asInt(m["delay_minutes"]); d > 0 {
				line += fmt.Sprintf("，延误%d分钟", d)
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		return workflow.Update{FieldFlightAnswer: sb.String()}, workflow.Decision{}, nil
	})
	b.SetRouter("format_result", func(st workflow.State) workflow.Decision {
		if utf8.RuneCountInString(workflow.StringOf(st, FieldFlightAnswer)) > AnswerRuneLimit {
			return workflow.Continue("simplify")
		}
		return workflow.Continue("deliver_result")
	})

	b.AddFunc("simplify", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		answer := workflow.StringOf(st, FieldFlightAnswer)
		simplified, err := deps.Reasoner.Reason(ctx, singleUser(answer), promptSimplifyAnswer, collab.ShapeText)
		if err != nil || strings.TrimSpace(simplified) == "" {
			simplified = answer
		}
		return workflow.Update{FieldFlightAnswer: simplified}, workflow.Continue("deliver_result"), nil
	})

	b.AddFunc("deliver_result", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		return workflow.Update{
			FieldMessages: say(RoleFlightInfo, workflow.StringOf(st, FieldFlightAnswer)),
		}, workflow.DeferToParent(), nil
	})

	b.SetEntry("extract_params")
	return b.MustBuild()
}

func asInt(v any) int {
	switch t := v.(type) {
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
