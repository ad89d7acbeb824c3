// Package knowledge implements the airport knowledge-search
// collaborator as a deterministic in-memory scored index.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/traveler-leon/aeroflow/collab"
)

// Document 知识库条目
type Document struct {
	Content     string
	Category    string
	Subcategory string
	// Kinds 细分类型，非空表示该主题下有更细粒度的规定
	Kinds []string
}

// defaultDocs 机场知识库
var defaultDocs = []Document{
	{
		Content:     "机场安检规定：旅客不能随身携带超过100ml的液体。所有液体需要装在透明袋子里。",
		Category:    "安检",
		Subcategory: "液体限制",
	},
	{
		Content:     "刀具限制：折叠刀、水果刀、菜刀等各类刀具禁止随身携带，但可以托运。托运时需要妥善包装，刀尖有保护套。",
		Category:    "安检",
		Subcategory: "刀具",
		Kinds:       []string{"折叠刀", "水果刀", "菜刀"},
	},
	{
		Content:     "机场餐厅位于T3航站楼2层和3层，包括肯德基、星巴克、云海肴等多家餐厅。营业时间一般为早6点至晚10点。",
		Category:    "设施",
		Subcategory: "餐厅",
	},
	{
		Content:     "航站楼之间可以通过免费摆渡车转换，摆渡车大约每15分钟一班。",
		Category:    "交通",
		Subcategory: "摆渡车",
	},
	{
		Content:     "机场行李寄存处位于各航站楼的一层，收费标准为每件行李每天50元。",
		Category:    "服务",
		Subcategory: "行李寄存",
	},
	{
		Content:     "婴儿车、轮椅可以免费托运，不计入行李额。",
		Category:    "行李",
		Subcategory: "特殊物品",
	},
	{
		Content:     "国内航班值机时间一般在起飞前2小时开始，国际航班值机时间通常在起飞前3小时开始。请至少提前90分钟到达机场办理值机手续。",
		Category:    "值机",
		Subcategory: "时间",
	},
	{
		Content:     "儿童乘机规定：2周岁以下婴儿可免费搭乘国内航班；2-12周岁儿童需购买儿童票，通常为成人票价的五折。",
		Category:    "票务",
		Subcategory: "儿童票",
	},
	{
		Content:     "不同类型的刀具有不同规定。厨房刀具如菜刀必须托运；随身携带的指甲刀长度必须小于6cm；户外折叠刀无论大小均禁止随身携带；装饰刀具视情况而定，需安检员判断。",
		Category:    "安检",
		Subcategory: "刀具详细规定",
		Kinds:       []string{"菜刀", "指甲刀", "折叠刀", "装饰刀"},
	},
	{
		Content:     "机场失物招领处位于每个航站楼的一层服务中心。拾获的物品将保存30天，超过期限未认领的将按照相关规定处理。",
		Category:    "服务",
		Subcategory: "失物招领",
	},
}

// Index is a scored in-memory collab.Searcher.
type Index struct {
	docs []Document
}

// NewIndex creates an index over the built-in airport knowledge base.
func NewIndex() *Index {
	return &Index{docs: defaultDocs}
}

// NewIndexWith creates an index over caller-provided documents.
func NewIndexWith(docs []Document) *Index {
	return &Index{docs: docs}
}

// Search scores every document against the query and returns the top
// limit hits in descending score order. Pure function of its inputs.
func (i *Index) Search(_ context.Context, query string, limit int) ([]collab.ScoredDocument, error) {
	if limit <= 0 {
		limit = 3
	}
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil, nil
	}

	var results []collab.ScoredDocument
	for _, d := range i.docs {
		s := similarity(qTokens, tokenize(d.Content))
		if s > 0 {
			results = append(results, collab.ScoredDocument{Content: d.Content, Score: s})
		}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Kinds returns the finer-grained variants known for a topic mentioned
// in the query, empty when the topic has no sub-categories. Used by the
// granularity check of the knowledge workflow.
func (i *Index) Kinds(query string) []string {
	for _, d := range i.docs {
		if len(d.Kinds) == 0 {
			continue
		}
		if strings.Contains(query, d.Subcategory) || strings.Contains(d.Subcategory, query) {
			return d.Kinds
		}
		for _, k := range d.Kinds {
			if strings.Contains(query, k) {
				// 已点名具体类型，粒度匹配
				return nil
			}
		}
	}
	// 主题级提及（如“刀具”）匹配任一带细分的条目
	for _, d := range i.docs {
		if len(d.Kinds) == 0 {
			continue
		}
		for tok := range tokenize(query) {
			if strings.Contains(d.Subcategory, tok) {
				return d.Kinds
			}
		}
	}
	return nil
}

// tokenize splits text into CJK bigrams plus lowercase ASCII words,
// which behaves far better for Chinese than whitespace splitting.
func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var cjk []rune
	var word []rune
	flushWord := func() {
		if len(word) > 0 {
			out[strings.ToLower(string(word))] = struct{}{}
			word = word[:0]
		}
	}
	flushCJK := func() {
		for i := 0; i+1 < len(cjk); i++ {
			out[string(cjk[i:i+2])] = struct{}{}
		}
		if len(cjk) == 1 {
			out[string(cjk)] = struct{}{}
		}
		cjk = cjk[:0]
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return out
}

// similarity mirrors the overlap scoring of the source knowledge base:
// matched share weighted 0.7 plus a capped term-count bonus weighted 0.3.
func similarity(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	share := float64(matched) / float64(len(query))
	bonus := float64(matched) / 5
	if bonus > 1 {
		bonus = 1
	}
	return 0.7*share + 0.3*bonus
}

var _ collab.Searcher = (*Index)(nil)
