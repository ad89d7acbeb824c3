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

// kindFinder 是可选能力：检索器若能列出主题的细分类型，粒度检查才生效
type kindFinder interface {
	Kinds(query string) []string
}

// NewKnowledgeWorkflow builds the knowledge-lookup sub-workflow:
// analyze -> (clarify loop, bounded) -> retrieve -> (ask_for_specifics)
// -> check_granularity -> (refine) -> select_style -> generate_answer
// -> (simplify) -> format_with_style. The clarification counter is
// shared across clarify, ask_for_specifics and refine; past the bound
// the workflow forces progression and answers with what it has.
func NewKnowledgeWorkflow(deps Deps) *workflow.Definition {
	log := deps.logger().With(zap.String("workflow", RoleKnowledgeQA))

	b := workflow.NewBuilder(RoleKnowledgeQA, Schema())

	b.AddFunc("analyze_completeness", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		latest := latestUserContent(st)
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})

		defaults := map[string]any{"complete": true, "query": latest, "missing_info": []any{}}
		reply, err := deps.Reasoner.Reason(ctx, window, promptAnalyzeQuery, collab.ShapeStructured)
		if err != nil {
			log.Warn("completeness analysis failed, assuming complete", zap.Error(err))
			reply = ""
		}
		parsed, ok := collab.DecodeJSONMap(reply, defaults)
		if !ok {
			log.Debug("no structured payload in completeness analysis, using defaults")
		}

		query, _ := parsed["query"].(string)
		if strings.TrimSpace(query) == "" {
			query = latest
		}
		complete, _ := parsed["complete"].(bool)
		var missing []string
		if raw, ok := parsed["missing_info"].([]any); ok {
			for _, m := range raw {
				if s, ok := m.(string); ok {
					missing = append(missing, s)
				}
			}
		}
		return workflow.Update{
			FieldKBQuery:    query,
			FieldKBComplete: complete,
			FieldKBMissing:  missing,
		}, workflow.Decision{}, nil
	})
	b.SetRouter("analyze_completeness", func(st workflow.State) workflow.Decision {
		if workflow.BoolOf(st, FieldKBComplete) {
			return workflow.Continue("retrieve")
		}
		if workflow.IntOf(st, FieldClarifyCount) >= MaxClarifyRounds {
			// 澄清轮数耗尽，强制进入检索
			return workflow.Continue("retrieve")
		}
		return workflow.Continue("clarify")
	})

	b.AddFunc("clarify", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		var sb strings.Builder
		sb.WriteString("为了更好地回答您的问题，我需要了解一些细节：\n")
		for _, info := range workflow.StringsOf(st, FieldKBMissing) {
			fmt.Fprintf(&sb, "- %s？\n", info)
		}
		sb.WriteString("\n您能提供这些信息吗？")
		return workflow.Update{
			FieldMessages:     say(RoleKnowledgeQA, sb.String()),
			FieldClarifyCount: workflow.IntOf(st, FieldClarifyCount) + 1,
		}, workflow.Halt(), nil
	})

	b.AddFunc("retrieve", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		query := workflow.StringOf(st, FieldKBQuery)
		hits, err := deps.Searcher.Search(ctx, query, 5)
		if err != nil {
			log.Warn("knowledge search failed", zap.Error(err))
			return workflow.Update{
				FieldMessages: say(RoleKnowledgeQA, "抱歉，知识库暂时无法访问，请稍后再试。您也可以咨询人工客服或拨打热线400-123-4567。"),
			}, workflow.DeferToParent(), nil
		}

		relevance := 0.0
		docs := make([]any, 0, len(hits))
		for _, h := range hits {
			relevance += h.Score
			docs = append(docs, map[string]any{"content": h.Content, "score": h.Score})
		}
		if len(hits) > 0 {
			relevance /= float64(len(hits))
		}
		return workflow.Update{
			FieldKBDocs:      docs,
			FieldKBRelevance: relevance,
		}, workflow.Decision{}, nil
	})
	b.SetRouter("retrieve", func(st workflow.State) workflow.Decision {
		if workflow.Float64Of(st, FieldKBRelevance) < RelevanceThreshold &&
			workflow.IntOf(st, FieldClarifyCount) < MaxClarifyRounds {
			return workflow.Continue("ask_for_specifics")
		}
		return workflow.Continue("check_granularity")
	})

	b.AddFunc("ask_for_specifics", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		followUp, err := deps.Reasoner.Reason(ctx, window, promptAskSpecifics, collab.ShapeText)
		if err != nil || strings.TrimSpace(followUp) == "" {
			followUp = "没有找到与您的问题高度相关的信息，您能再具体一点描述您想了解的内容吗？"
		}
		return workflow.Update{
			FieldMessages:     say(RoleKnowledgeQA, followUp),
			FieldClarifyCount: workflow.IntOf(st, FieldClarifyCount) + 1,
		}, workflow.Halt(), nil
	})

	b.AddFunc("check_granularity", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		kf, ok := deps.Searcher.(kindFinder)
		if !ok || workflow.IntOf(st, FieldClarifyCount) >= MaxClarifyRounds {
			return workflow.Update{FieldKBKinds: []string{}}, workflow.Continue("select_style"), nil
		}
		kinds := kf.Kinds(workflow.StringOf(st, FieldKBQuery))
		if len(kinds) == 0 {
			return workflow.Update{FieldKBKinds: []string{}}, workflow.Continue("select_style"), nil
		}
		return workflow.Update{FieldKBKinds: kinds}, workflow.Continue("refine"), nil
	})

	b.AddFunc("refine", func(_ context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		kinds := workflow.StringsOf(st, FieldKBKinds)
		text := fmt.Sprintf("不同类型的规定有所不同。请问您具体想了解哪一类：%s？", strings.Join(kinds, "、"))
		return workflow.Update{
			FieldMessages:     say(RoleKnowledgeQA, text),
			FieldClarifyCount: workflow.IntOf(st, FieldClarifyCount) + 1,
		}, workflow.Halt(), nil
	})

	b.AddFunc("select_style", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		reply, err := deps.Reasoner.Reason(ctx, window, promptSelectStyle, collab.ShapeStructured)
		if err != nil {
			reply = ""
		}
		parsed, _ := collab.DecodeJSONMap(reply, map[string]any{"style": "professional"})
		style, _ := parsed["style"].(string)
		if style == "" {
			style = "professional"
		}
		return workflow.Update{FieldKBStyle: style}, workflow.Continue("generate_answer"), nil
	})

	b.AddFunc("generate_answer", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		var ctxText strings.Builder
		if docs, ok := st[FieldKBDocs].([]any); ok {
			for _, d := range docs {
				if m, ok := d.(map[string]any); ok {
					if c, ok := m["content"].(string); ok {
						ctxText.WriteString("- ")
						ctxText.WriteString(c)
						ctxText.WriteString("\n")
					}
				}
			}
		}
		window := contextwindow.BuildPlain(workflow.MessagesOf(st, FieldMessages), deps.maxTurns(), contextwindow.Options{})
		answer, err := deps.Reasoner.Reason(ctx, window, promptGenerateAnswer+ctxText.String(), collab.ShapeText)
		if err != nil || strings.TrimSpace(answer) == "" {
			log.Warn("answer generation failed", zap.Error(err))
			answer = "抱歉，我暂时无法生成回答。您可以换一种方式提问，或咨询人工客服。"
		}
		return workflow.Update{FieldKBAnswer: answer}, workflow.Decision{}, nil
	})
	b.SetRouter("generate_answer", func(st workflow.State) workflow.Decision {
		if utf8.RuneCountInString(workflow.StringOf(st, FieldKBAnswer)) > AnswerRuneLimit {
			return workflow.Continue("simplify")
		}
		return workflow.Continue("format_with_style")
	})

	b.AddFunc("simplify", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		answer := workflow.StringOf(st, FieldKBAnswer)
		simplified, err := deps.Reasoner.Reason(ctx,
			singleUser(answer), promptSimplifyAnswer, collab.ShapeText)
		if err != nil || strings.TrimSpace(simplified) == "" {
			// 简化失败就用原答案
			simplified = answer
		}
		return workflow.Update{FieldKBAnswer: simplified}, workflow.Continue("format_with_style"), nil
	})

	b.AddFunc("format_with_style", func(ctx context.Context, st workflow.State) (workflow.Update, workflow.Decision, error) {
		answer := workflow.StringOf(st, FieldKBAnswer)
		style := workflow.StringOf(st, FieldKBStyle)
		styled, err := deps.Reasoner.Reason(ctx,
			singleUser(answer), promptFormatWithStyle+style, collab.ShapeText)
		if err != nil || strings.TrimSpace(styled) == "" {
			styled = answer
		}
		return workflow.Update{
			FieldMessages: say(RoleKnowledgeQA, styled),
		}, workflow.DeferToParent(), nil
	})

	b.SetEntry("analyze_completeness")
	return b.MustBuild()
}
