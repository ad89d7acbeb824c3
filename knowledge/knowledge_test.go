package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksRelevantDocumentFirst(t *testing.T) {
	idx := NewIndex()

	hits, err := idx.Search(context.Background(), "随身携带液体有什么限制", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Content, "100ml")
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestSearchDescendingScores(t *testing.T) {
	idx := NewIndex()

	hits, err := idx.Search(context.Background(), "刀具可以带上飞机吗", 5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hits), 2)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchDeterministic(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()

	a, err := idx.Search(ctx, "值机时间", 3)
	require.NoError(t, err)
	b, err := idx.Search(ctx, "值机时间", 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSearchNoMatch(t *testing.T) {
	idx := NewIndex()

	hits, err := idx.Search(context.Background(), "quantum entanglement", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := NewIndex()

	hits, err := idx.Search(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKindsForCoarseTopic(t *testing.T) {
	idx := NewIndex()

	// 只问“刀具”未指明类型，应返回细分类型供追问
	kinds := idx.Kinds("刀具")
	assert.NotEmpty(t, kinds)
}

func TestKindsForSpecificType(t *testing.T) {
	idx := NewIndex()

	// 已点名“指甲刀”，粒度匹配，无需追问
	assert.Empty(t, idx.Kinds("指甲刀能随身携带吗"))
}

func TestKindsForTopicWithoutSubcategories(t *testing.T) {
	idx := NewIndex()
	assert.Empty(t, idx.Kinds("摆渡车多久一班"))
}
