/*
 * @module service/content/normalizer_test
 * @description 内容规范化器测试：哈希稳定性、分词、相似度与关键短语提取
 * @architecture 单元测试
 */

package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	n := NewNormalizer()

	t.Run("大小写与空白差异不影响哈希", func(t *testing.T) {
		a := n.HashContent("Fed Cuts Rates   by 25 Basis Points")
		b := n.HashContent("fed cuts rates by 25 basis points")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("内容差异产生不同哈希", func(t *testing.T) {
		a := n.HashContent("fed cuts rates")
		b := n.HashContent("fed raises rates")
		assert.NotEqual(t, a, b)
	})
}

func TestTitleTokens(t *testing.T) {
	n := NewNormalizer()

	tokens := n.TitleTokens("Apple's Q3 Earnings: Beat, or Miss?")
	assert.Equal(t, []string{"apple", "s", "q3", "earnings", "beat", "or", "miss"}, tokens)
	assert.Equal(t, "apple s q3 earnings beat or miss", n.NormalizeTitle("Apple's Q3 Earnings: Beat, or Miss?"))
}

func TestJaccardSimilarity(t *testing.T) {
	n := NewNormalizer()

	t.Run("相同集合相似度为1", func(t *testing.T) {
		assert.Equal(t, 1.0, n.JaccardSimilarity([]string{"a", "b"}, []string{"b", "a"}))
	})

	t.Run("无交集相似度为0", func(t *testing.T) {
		assert.Equal(t, 0.0, n.JaccardSimilarity([]string{"a"}, []string{"b"}))
	})

	t.Run("部分重合按交并比计算", func(t *testing.T) {
		a := []string{"fed", "cuts", "rates", "markets", "rally"}
		b := []string{"fed", "cuts", "rates", "markets", "rally", "today"}
		assert.InDelta(t, 5.0/6.0, n.JaccardSimilarity(a, b), 1e-9)
	})

	t.Run("双空集合相似度为0", func(t *testing.T) {
		assert.Equal(t, 0.0, n.JaccardSimilarity(nil, nil))
	})
}

func TestExtractKeyPhrases(t *testing.T) {
	n := NewNormalizer()

	t.Run("过滤停用词与短词并按词频排序", func(t *testing.T) {
		phrases := n.ExtractKeyPhrases(
			"Bitcoin halving approaches",
			"the bitcoin halving will cut miner rewards and the bitcoin network adjusts",
		)
		require.NotEmpty(t, phrases)
		assert.Equal(t, "bitcoin", phrases[0]) // 词频最高
		assert.NotContains(t, phrases, "the")
		assert.NotContains(t, phrases, "and")
	})

	t.Run("提取数量不超过上限", func(t *testing.T) {
		long := ""
		for _, w := range []string{
			"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf",
			"hotel", "india", "juliet", "kilo", "lima", "mike", "november",
		} {
			long += w + " "
		}
		phrases := n.ExtractKeyPhrases("", long)
		assert.Len(t, phrases, KeyPhraseCount)
	})
}

func TestPhraseOverlapRatio(t *testing.T) {
	n := NewNormalizer()

	existing := []string{"bitcoin", "halving", "miners", "rewards"}

	t.Run("全部命中比例为1", func(t *testing.T) {
		assert.Equal(t, 1.0, n.PhraseOverlapRatio([]string{"bitcoin", "halving"}, existing))
	})

	t.Run("比例按候选集大小归一", func(t *testing.T) {
		candidate := []string{"bitcoin", "halving", "miners", "unrelated"}
		assert.InDelta(t, 0.75, n.PhraseOverlapRatio(candidate, existing), 1e-9)
	})

	t.Run("空候选集比例为0", func(t *testing.T) {
		assert.Equal(t, 0.0, n.PhraseOverlapRatio(nil, existing))
	})
}

func TestToUTF8(t *testing.T) {
	n := NewNormalizer()

	t.Run("GBK内容转换为UTF-8", func(t *testing.T) {
		// "中文" 的GBK编码
		gbk := []byte{0xD6, 0xD0, 0xCE, 0xC4}
		out, err := n.ToUTF8(gbk, "gbk")
		require.NoError(t, err)
		assert.Equal(t, "中文", string(out))
	})

	t.Run("未知字符集原样返回", func(t *testing.T) {
		data := []byte("plain ascii")
		out, err := n.ToUTF8(data, "unknown-charset")
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})
}
