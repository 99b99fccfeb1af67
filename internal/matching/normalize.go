// Package matching 两个数据源之间的实体匹配：文本规范化、相似度、set/卡牌匹配策略
package matching

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var romanNumerals = map[string]string{
	"ii": "2", "iii": "3", "iv": "4", "v": "5",
	"vi": "6", "vii": "7", "viii": "8", "ix": "9",
}

// 卡名末尾的版本/工艺后缀，比较前去掉
var cardSuffixes = map[string]bool{
	"holo":       true,
	"holofoil":   true,
	"foil":       true,
	"reverse":    true,
	"unlimited":  true,
	"shadowless": true,
	"nonholo":    true,
}

// Normalizer 规范化结果带 LRU 缓存，可并发使用
type Normalizer struct {
	cache *lru.Cache
}

func NewNormalizer(cacheSize int) *Normalizer {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, _ := lru.New(cacheSize)
	return &Normalizer{cache: cache}
}

func (n *Normalizer) cached(prefix, s string, fn func(string) string) string {
	key := prefix + s
	if v, ok := n.cache.Get(key); ok {
		return v.(string)
	}
	out := fn(s)
	n.cache.Add(key, out)
	return out
}

// Normalize 去重音、小写、& → and、去标点、合并空白，并统一 "1st edition" 与罗马数字
func (n *Normalizer) Normalize(s string) string {
	return n.cached("t:", s, normalizeText)
}

// CardName 在 Normalize 基础上去掉末尾的 holo/foil/1st edition 等后缀
func (n *Normalizer) CardName(s string) string {
	return n.cached("c:", s, normalizeCardName)
}

// Number 收藏编号："025/165" → "25"，"#7" → "7"，"TG05" → "tg05"
func (n *Normalizer) Number(s string) string {
	return n.cached("n:", s, normalizeNumber)
}

func normalizeText(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// Farfetch'd → farfetchd
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if (tok == "first" || tok == "1st") && i+1 < len(tokens) && (tokens[i+1] == "edition" || tokens[i+1] == "ed") {
			out = append(out, "1st", "edition")
			i++
			continue
		}
		if d, ok := romanNumerals[tok]; ok {
			tok = d
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func normalizeCardName(s string) string {
	tokens := strings.Fields(normalizeText(s))
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if cardSuffixes[last] {
			tokens = tokens[:len(tokens)-1]
			continue
		}
		if len(tokens) > 2 && last == "edition" && tokens[len(tokens)-2] == "1st" {
			tokens = tokens[:len(tokens)-2]
			continue
		}
		break
	}
	return strings.Join(tokens, " ")
}

func normalizeNumber(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "#"))
	if s == "" {
		return ""
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return s
		}
	}
	if trimmed := strings.TrimLeft(s, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

// Similarity 归一化编辑距离相似度 (maxLen - dist) / maxLen，按 rune 计长度；都为空时为 1
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-dist) / float64(maxLen)
}
