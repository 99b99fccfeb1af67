package matching

import (
	"sort"

	"CardSync/internal/model"
)

// 卡牌匹配方式：card 行上记简写，product_links 上记完整标签
const (
	CardMethodNumber         = "number"
	CardMethodName           = "name"
	LinkMethodExactNumber    = "exact_number_match"
	LinkMethodNameSimilarity = "name_similarity"
)

type CardMatchOptions struct {
	NameThreshold float64 // 名称相似度下限
	PoolLimit     int     // 候选卡数达到该值时跳过名称匹配；<=0 不限制
	Budget        *Budget
}

type CardMatch struct {
	ProductID  int64   `json:"productId"`
	CardID     uint64  `json:"cardId"`
	Score      float64 `json:"score"`
	CardMethod string  `json:"cardMethod"`
	LinkMethod string  `json:"linkMethod"`
}

type CardMatchResult struct {
	Matched       []CardMatch `json:"matched"`
	Unmatched     []int64     `json:"unmatched"`
	NameSkipped   bool        `json:"nameSkipped"` // 候选池过大，未做名称匹配
	Completed     bool        `json:"completed"`
	NextProductID int64       `json:"nextProductId,omitempty"`
}

type cardKey struct {
	card   *model.Card
	number string
	name   string
}

// MatchCards 按 product_id 升序：先找编号完全一致的卡（命中即停，置信度 1.0），
// 否则在候选池足够小时取名称相似度最高且不低于阈值的卡。已被认领的卡跳过。
func (n *Normalizer) MatchCards(products []*model.CatalogProduct, cards []*model.Card, opts CardMatchOptions) CardMatchResult {
	ps := append([]*model.CatalogProduct(nil), products...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].ProductID < ps[j].ProductID })

	keys := make([]cardKey, 0, len(cards))
	for _, c := range cards {
		keys = append(keys, cardKey{card: c, number: n.Number(c.Number), name: n.CardName(c.Name)})
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].card.ID < keys[j].card.ID })

	nameAllowed := opts.PoolLimit <= 0 || len(keys) < opts.PoolLimit
	res := CardMatchResult{Matched: []CardMatch{}, Unmatched: []int64{}, Completed: true, NameSkipped: !nameAllowed}
	claimed := make(map[uint64]bool, len(keys))

	for _, p := range ps {
		if opts.Budget.Exceeded() {
			res.Completed = false
			res.NextProductID = p.ProductID
			break
		}

		if m, ok := n.matchByNumber(p, keys, claimed); ok {
			claimed[m.CardID] = true
			res.Matched = append(res.Matched, m)
			continue
		}
		if nameAllowed {
			if m, ok := n.matchByName(p, keys, claimed, opts.NameThreshold); ok {
				claimed[m.CardID] = true
				res.Matched = append(res.Matched, m)
				continue
			}
		}
		res.Unmatched = append(res.Unmatched, p.ProductID)
	}
	return res
}

func (n *Normalizer) matchByNumber(p *model.CatalogProduct, keys []cardKey, claimed map[uint64]bool) (CardMatch, bool) {
	num := n.Number(p.Number)
	if num == "" {
		return CardMatch{}, false
	}
	for _, k := range keys {
		if claimed[k.card.ID] || k.number != num {
			continue
		}
		return CardMatch{
			ProductID:  p.ProductID,
			CardID:     k.card.ID,
			Score:      1.0,
			CardMethod: CardMethodNumber,
			LinkMethod: LinkMethodExactNumber,
		}, true
	}
	return CardMatch{}, false
}

func (n *Normalizer) matchByName(p *model.CatalogProduct, keys []cardKey, claimed map[uint64]bool, threshold float64) (CardMatch, bool) {
	name := p.CleanName
	if name == "" {
		name = p.Name
	}
	pn := n.CardName(name)

	var (
		best    float64
		bestKey *cardKey
	)
	for i := range keys {
		k := &keys[i]
		if claimed[k.card.ID] {
			continue
		}
		if score := Similarity(pn, k.name); score > best {
			best, bestKey = score, k
		}
	}
	if bestKey == nil || best < threshold {
		return CardMatch{}, false
	}
	return CardMatch{
		ProductID:  p.ProductID,
		CardID:     bestKey.card.ID,
		Score:      best,
		CardMethod: CardMethodName,
		LinkMethod: LinkMethodNameSimilarity,
	}, true
}
