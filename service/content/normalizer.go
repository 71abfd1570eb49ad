/*
 * @module service/content/normalizer
 * @description 内容规范化器：字符集转换、内容哈希、标题规范化分词、关键短语提取与相似度计算
 * @architecture 工具层 - 纯函数集合
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 原始内容 -> 字符集归一 -> 规范化 -> 哈希/分词/短语集
 * @rules 规范化标题与关键短语仅用于模糊匹配层，不参与精确身份判定
 * @dependencies golang.org/x/text/encoding, golang.org/x/text/transform
 * @refs service/content/dedup_engine.go
 */

package content

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// KeyPhraseCount 关键短语提取的固定上限（top-N显著词项）
const KeyPhraseCount = 12

// stopWords 显著性过滤用的停用词表
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"with": true, "by": true, "as": true, "from": true, "that": true, "this": true,
	"it": true, "its": true, "has": true, "have": true, "had": true, "will": true,
	"would": true, "could": true, "should": true, "not": true, "no": true,
	"after": true, "before": true, "about": true, "into": true, "over": true,
	"more": true, "most": true, "than": true, "up": true, "down": true, "out": true,
	"new": true, "says": true, "said": true, "say": true,
}

// Normalizer 内容规范化器
type Normalizer struct{}

// NewNormalizer 创建内容规范化器
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// ToUTF8 将指定字符集的内容转换为UTF-8，未知或已是UTF-8时原样返回
func (n *Normalizer) ToUTF8(data []byte, charset string) ([]byte, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		decoder := simplifiedchinese.GBK.NewDecoder()
		result, _, err := transform.Bytes(decoder, data)
		return result, err
	}
	return data, nil
}

// HashContent 对规范化后的内容计算SHA-256哈希（十六进制）
func (n *Normalizer) HashContent(content string) string {
	normalized := n.NormalizeContent(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NormalizeContent 内容规范化：小写并压缩空白，用于哈希前的归一
func (n *Normalizer) NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// NormalizeTitle 标题规范化：小写、去标点、压缩空白
func (n *Normalizer) NormalizeTitle(title string) string {
	return strings.Join(n.TitleTokens(title), " ")
}

// TitleTokens 标题分词：小写、去标点后的词元序列
func (n *Normalizer) TitleTokens(title string) []string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return strings.Fields(sb.String())
}

// JaccardSimilarity 计算两个词元集合的Jaccard相似度
func (n *Normalizer) JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// ExtractKeyPhrases 提取固定上限的显著词项（按词频降序，频次相同按字典序保证稳定）
func (n *Normalizer) ExtractKeyPhrases(title, body string) []string {
	freq := make(map[string]int)
	for _, tok := range n.TitleTokens(title + " " + body) {
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		freq[tok]++
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > KeyPhraseCount {
		terms = terms[:KeyPhraseCount]
	}
	return terms
}

// PhraseOverlapRatio 计算候选短语集相对既有短语集的重合比例
func (n *Normalizer) PhraseOverlapRatio(candidate, existing []string) float64 {
	if len(candidate) == 0 {
		return 0
	}
	set := make(map[string]bool, len(existing))
	for _, p := range existing {
		set[p] = true
	}
	hit := 0
	for _, p := range candidate {
		if set[p] {
			hit++
		}
	}
	return float64(hit) / float64(len(candidate))
}
