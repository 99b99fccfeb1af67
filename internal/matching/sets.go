package matching

import (
	"sort"

	"CardSync/internal/model"
)

// set 匹配方式
const (
	MethodGroupNameExact      = "group_name_exact"
	MethodGroupCodeExact      = "group_code_exact"
	MethodGroupNameSimilarity = "group_name_similarity"
)

const (
	scoreNameExact = 1.0
	scoreCodeExact = 0.95
)

type SetMatchOptions struct {
	AutoThreshold  float64 // 自动关联的最低分
	MinGap         float64 // 最佳须比次佳高出（严格大于）
	ReviewMinScore float64 // 低于该分不进人工复核
	Budget         *Budget
}

// SetMatch 一个 group 的最佳候选
type SetMatch struct {
	GroupID     int64   `json:"groupId"`
	GroupName   string  `json:"groupName"`
	SetID       uint64  `json:"setId"`
	SetName     string  `json:"setName"`
	Score       float64 `json:"score"`
	SecondScore float64 `json:"secondScore"`
	Method      string  `json:"method"`
}

type SetMatchResult struct {
	Matched     []SetMatch `json:"matched"`
	Ambiguous   []SetMatch `json:"ambiguous"`
	Unmatched   []int64    `json:"unmatched"`
	Completed   bool       `json:"completed"`
	NextGroupID int64      `json:"nextGroupId,omitempty"` // 预算用完时下次从这里继续
}

// MatchSets 按 group_id 升序逐个 group 扫描尚未被认领的本地 set。
// 得分并列时先出现的 set 为最佳；一个 set 在本轮被认领后不再参与后续 group。
func (n *Normalizer) MatchSets(groups []*model.CatalogGroup, sets []*model.Set, opts SetMatchOptions) SetMatchResult {
	gs := append([]*model.CatalogGroup(nil), groups...)
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].GroupID < gs[j].GroupID })
	ss := append([]*model.Set(nil), sets...)
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })

	res := SetMatchResult{Matched: []SetMatch{}, Ambiguous: []SetMatch{}, Unmatched: []int64{}, Completed: true}
	claimed := make(map[uint64]bool, len(ss))

	for _, g := range gs {
		if opts.Budget.Exceeded() {
			res.Completed = false
			res.NextGroupID = g.GroupID
			break
		}

		var (
			best, second float64
			bestSet      *model.Set
			bestMethod   string
		)
		for _, s := range ss {
			if claimed[s.ID] {
				continue
			}
			score, method := n.scoreSet(g, s)
			switch {
			case bestSet == nil || score > best:
				if bestSet != nil {
					second = best
				}
				best, bestSet, bestMethod = score, s, method
			case score > second:
				second = score
			}
		}

		if bestSet == nil {
			res.Unmatched = append(res.Unmatched, g.GroupID)
			continue
		}
		m := SetMatch{
			GroupID:     g.GroupID,
			GroupName:   g.Name,
			SetID:       bestSet.ID,
			SetName:     bestSet.Name,
			Score:       best,
			SecondScore: second,
			Method:      bestMethod,
		}
		switch {
		case best >= opts.AutoThreshold && best-second > opts.MinGap:
			claimed[bestSet.ID] = true
			res.Matched = append(res.Matched, m)
		case best >= opts.ReviewMinScore:
			res.Ambiguous = append(res.Ambiguous, m)
		default:
			res.Unmatched = append(res.Unmatched, g.GroupID)
		}
	}
	return res
}

func (n *Normalizer) scoreSet(g *model.CatalogGroup, s *model.Set) (float64, string) {
	gn, sn := n.Normalize(g.Name), n.Normalize(s.Name)
	if gn != "" && gn == sn {
		return scoreNameExact, MethodGroupNameExact
	}
	gc, sc := n.Normalize(g.Abbreviation), n.Normalize(s.Code)
	if (gc != "" && (gc == sc || gc == sn)) || (sc != "" && sc == gn) {
		return scoreCodeExact, MethodGroupCodeExact
	}
	return Similarity(gn, sn), MethodGroupNameSimilarity
}
