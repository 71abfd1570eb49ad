/*
 * @module service/content/dedup_engine_test
 * @description 四层去重引擎测试：短路顺序、跨源引用登记与近窗参与
 * @architecture 单元测试
 */

package content

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foresight-service/service/meta"
	"foresight-service/service/models"
	"foresight-service/testutil"
)

func newDedupFixture(t *testing.T) (*DedupEngine, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	window := NewRecentWindow(DefaultWindowTTL, DefaultWindowMaxSize)
	return NewDedupEngine(tdb.DB, window), tdb
}

// sharedPhraseBody 生成由固定显著词项重复构成的正文，词项集合一致而文本不同
func sharedPhraseBody(reversed bool) string {
	words := []string{
		"bitcoin", "halving", "miners", "hashrate", "difficulty", "rewards",
		"network", "blocks", "transaction", "fees", "volatility", "exchanges",
	}
	if reversed {
		for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
			words[i], words[j] = words[j], words[i]
		}
	}
	var parts []string
	for i := 0; i < 3; i++ {
		parts = append(parts, words...)
	}
	return strings.Join(parts, " ")
}

func TestDedupSubmit(t *testing.T) {
	engine, tdb := newDedupFixture(t)
	ctx := context.Background()

	first := &models.RawItem{
		OrgID:    testutil.TestOrgID,
		SourceID: "source-a",
		Title:    "Apple quarterly earnings beat expectations amid strong iphone sales growth",
		Content:  "Apple reported quarterly revenue above analyst estimates, driven by iphone demand.",
	}

	t.Run("全新内容入库并加入近窗", func(t *testing.T) {
		result, err := engine.Submit(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupNew, result.Classification)
		assert.NotEmpty(t, result.ArticleID)
		assert.Equal(t, 1, engine.window.Size(testutil.TestOrgID))

		var article models.Article
		require.NoError(t, tdb.DB.First(&article, "id = ?", result.ArticleID).Error)
		assert.Equal(t, "source-a", article.SourceID)
		assert.NotEmpty(t, article.ContentHash)
		assert.NotEmpty(t, article.NormalizedTitle)
	})

	t.Run("同源精确重复短路返回", func(t *testing.T) {
		result, err := engine.Submit(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupExactSameSource, result.Classification)

		var count int64
		tdb.DB.Model(&models.Article{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("跨源精确重复只登记一次引用", func(t *testing.T) {
		crossSource := *first
		crossSource.SourceID = "source-b"

		result, err := engine.Submit(ctx, &crossSource)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupExactCrossSource, result.Classification)

		// 同一跨源再次提交归为同源重复，引用不重复登记
		again, err := engine.Submit(ctx, &crossSource)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupExactSameSource, again.Classification)

		var refs []models.ArticleSourceRef
		require.NoError(t, tdb.DB.Find(&refs).Error)
		require.Len(t, refs, 1)
		assert.Equal(t, "source-b", refs[0].SourceID)
		assert.Equal(t, result.ArticleID, refs[0].ArticleID)
	})

	t.Run("近似标题按Jaccard相似度判重", func(t *testing.T) {
		fuzzy := &models.RawItem{
			OrgID:    testutil.TestOrgID,
			SourceID: "source-c",
			Title:    "Apple quarterly earnings beat expectations amid strong iphone sales growth today",
			Content:  "A rewritten version of the same story with different wording entirely.",
		}
		result, err := engine.Submit(ctx, fuzzy)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupFuzzyTitle, result.Classification)
		assert.Greater(t, result.Similarity, TitleSimilarityThreshold)
		assert.NotEmpty(t, result.MatchedID)

		var count int64
		tdb.DB.Model(&models.Article{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})
}

func TestDedupPhraseOverlapLayer(t *testing.T) {
	engine, tdb := newDedupFixture(t)
	ctx := context.Background()

	original := &models.RawItem{
		OrgID:    testutil.TestOrgID,
		SourceID: "source-a",
		Title:    "Mining economics after the event",
		Content:  sharedPhraseBody(false),
	}
	seeded, err := engine.Submit(ctx, original)
	require.NoError(t, err)
	require.Equal(t, meta.DedupNew, seeded.Classification)

	t.Run("标题不相似但关键短语高度重合判重", func(t *testing.T) {
		rewrite := &models.RawItem{
			OrgID:    testutil.TestOrgID,
			SourceID: "source-b",
			Title:    "What changes for proof of work now",
			Content:  sharedPhraseBody(true),
		}
		result, err := engine.Submit(ctx, rewrite)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupPhraseOverlap, result.Classification)
		assert.Greater(t, result.Similarity, PhraseOverlapThreshold)
		assert.Equal(t, seeded.ArticleID, result.MatchedID)

		var count int64
		tdb.DB.Model(&models.Article{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("组织之间互不参与对方近窗", func(t *testing.T) {
		otherOrg := &models.RawItem{
			OrgID:    "11111111-1111-1111-1111-111111111111",
			SourceID: "source-a",
			Title:    "Mining economics after the event",
			Content:  sharedPhraseBody(false) + " extra trailing words",
		}
		result, err := engine.Submit(ctx, otherOrg)
		require.NoError(t, err)
		assert.Equal(t, meta.DedupNew, result.Classification)
	})
}

func TestDedupValidation(t *testing.T) {
	engine, _ := newDedupFixture(t)
	ctx := context.Background()

	t.Run("缺少组织标识被拒绝", func(t *testing.T) {
		_, err := engine.Submit(ctx, &models.RawItem{SourceID: "s", Title: "t", Content: "c"})
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("缺少来源标识被拒绝", func(t *testing.T) {
		_, err := engine.Submit(ctx, &models.RawItem{OrgID: testutil.TestOrgID, Title: "t", Content: "c"})
		assert.Error(t, err)
		assert.True(t, models.IsValidationError(err))
	})
}
