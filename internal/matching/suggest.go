package matching

import (
	"sort"

	"CardSync/internal/model"

	"github.com/sahilm/fuzzy"
)

// Suggestion 人工处理歧义 set 时的候选 group
type Suggestion struct {
	GroupID    int64   `json:"groupId"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	Fuzzy      bool    `json:"fuzzy"` // 是否为子序列模糊命中
}

type groupSource struct {
	names []string
}

func (s groupSource) String(i int) string { return s.names[i] }
func (s groupSource) Len() int            { return len(s.names) }

// SuggestGroups 先取 fuzzy 子序列命中（按其得分），再按编辑距离相似度补足到 limit
func (n *Normalizer) SuggestGroups(query string, groups []*model.CatalogGroup, limit int) []Suggestion {
	if limit <= 0 {
		limit = 10
	}
	q := n.Normalize(query)
	src := groupSource{names: make([]string, len(groups))}
	for i, g := range groups {
		src.names[i] = n.Normalize(g.Name)
	}

	out := make([]Suggestion, 0, limit)
	seen := make(map[int]bool, limit)
	if q != "" {
		for _, m := range fuzzy.FindFrom(q, src) {
			if len(out) == limit {
				return out
			}
			g := groups[m.Index]
			seen[m.Index] = true
			out = append(out, Suggestion{GroupID: g.GroupID, Name: g.Name, Similarity: Similarity(q, src.names[m.Index]), Fuzzy: true})
		}
	}

	rest := make([]int, 0, len(groups))
	for i := range groups {
		if !seen[i] {
			rest = append(rest, i)
		}
	}
	sims := make([]float64, len(groups))
	for _, i := range rest {
		sims[i] = Similarity(q, src.names[i])
	}
	sort.SliceStable(rest, func(a, b int) bool { return sims[rest[a]] > sims[rest[b]] })

	for _, i := range rest {
		if len(out) == limit {
			break
		}
		g := groups[i]
		out = append(out, Suggestion{GroupID: g.GroupID, Name: g.Name, Similarity: sims[i]})
	}
	return out
}
