package service

import (
	"context"
	"fmt"

	"CardSync/internal/config"
	"CardSync/internal/matching"
	"CardSync/internal/metrics"
	"CardSync/internal/model"
	"CardSync/internal/repository"

	"github.com/sirupsen/logrus"
)

type MatchSetsRequest struct {
	GameID       uint64 `json:"gameId"`
	CategoryID   int64  `json:"categoryId"`   // 为 0 时取 game 关联的类目
	StartGroupID int64  `json:"startGroupId"` // 上次预算用完时返回的 nextGroupId
}

type MatchSetsResponse struct {
	Success bool `json:"success"`
	matching.SetMatchResult
	Linked   int `json:"linked"`   // 实际写入的关联数
	Reviews  int `json:"reviews"`  // 写入复核表的歧义候选
	Conflict int `json:"conflict"` // 匹配后发现 set 已被其他流程关联
}

type MatchCardsRequest struct {
	GameID     uint64 `json:"gameId"`
	SetID      uint64 `json:"setId"`      // 只匹配这一个 set
	StartSetID uint64 `json:"startSetId"` // 上次预算用完时返回的 nextSetId
}

// SetCardMatch 单个 set 的卡牌匹配汇总
type SetCardMatch struct {
	SetID       uint64 `json:"setId"`
	GroupID     int64  `json:"groupId"`
	Products    int    `json:"products"`
	Cards       int    `json:"cards"`
	Linked      int    `json:"linked"`
	Unmatched   int    `json:"unmatched"`
	NameSkipped bool   `json:"nameSkipped"`
}

type MatchCardsResponse struct {
	Success   bool           `json:"success"`
	Sets      []SetCardMatch `json:"sets"`
	Linked    int            `json:"linked"`
	Completed bool           `json:"completed"`
	NextSetID uint64         `json:"nextSetId,omitempty"`
}

// MatchService 把价格源的 set/card 关联到目录源的 group/product
type MatchService struct {
	catalog repository.CatalogRepository
	pricing repository.PricingRepository
	norm    *matching.Normalizer
	cfg     config.MatchingConfig
	logger  *logrus.Logger
}

func NewMatchService(catalog repository.CatalogRepository, pricing repository.PricingRepository, cfg config.MatchingConfig, logger *logrus.Logger) *MatchService {
	return &MatchService{
		catalog: catalog,
		pricing: pricing,
		norm:    matching.NewNormalizer(cfg.CacheSize),
		cfg:     cfg,
		logger:  logger,
	}
}

// MatchSets 为一个游戏下尚未关联的 set 找目录 group。已被其他 set 关联的 group 不再参与
func (s *MatchService) MatchSets(ctx context.Context, req MatchSetsRequest) (*MatchSetsResponse, error) {
	game, err := s.pricing.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, notFound(err, "game", req.GameID)
	}
	categoryID := req.CategoryID
	if categoryID == 0 && game.CatalogCategoryID != nil {
		categoryID = *game.CatalogCategoryID
	}
	if categoryID == 0 {
		return nil, fmt.Errorf("%w: game %d 未关联目录类目，需要指定 categoryId", ErrInvalidInput, game.ID)
	}

	groups, err := s.catalog.ListGroups(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("查询类目 %d 的 group 失败: %w", categoryID, err)
	}
	linked, err := s.pricing.ListLinkedSets(ctx, game.ID)
	if err != nil {
		return nil, fmt.Errorf("查询已关联 set 失败: %w", err)
	}
	taken := make(map[int64]bool, len(linked))
	for _, st := range linked {
		taken[*st.CatalogGroupID] = true
	}
	candidates := make([]*model.CatalogGroup, 0, len(groups))
	for _, g := range groups {
		if !taken[g.GroupID] && g.GroupID >= req.StartGroupID {
			candidates = append(candidates, g)
		}
	}

	sets, err := s.pricing.ListUnlinkedSets(ctx, game.ID)
	if err != nil {
		return nil, fmt.Errorf("查询未关联 set 失败: %w", err)
	}

	result := s.norm.MatchSets(candidates, sets, matching.SetMatchOptions{
		AutoThreshold:  s.cfg.SetAutoThreshold,
		MinGap:         s.cfg.SetMinGap,
		ReviewMinScore: s.cfg.ReviewMinScore,
		Budget:         matching.NewBudget(s.cfg.Budget),
	})
	resp := &MatchSetsResponse{Success: true, SetMatchResult: result}

	for _, m := range result.Matched {
		ok, err := s.pricing.ApplySetLink(ctx, m.SetID, m.GroupID, m.Score, m.Method)
		if err != nil {
			return nil, err
		}
		if !ok {
			resp.Conflict++
			continue
		}
		resp.Linked++
	}

	reviews := make([]*model.SetMatchReview, 0, len(result.Ambiguous))
	for _, m := range result.Ambiguous {
		reviews = append(reviews, &model.SetMatchReview{
			GroupID:     m.GroupID,
			SetID:       m.SetID,
			Score:       m.Score,
			SecondScore: m.SecondScore,
			Method:      m.Method,
			Status:      model.ReviewPending,
		})
	}
	if err := s.pricing.SaveSetReviews(ctx, reviews); err != nil {
		return nil, fmt.Errorf("保存待复核 set 失败: %w", err)
	}
	resp.Reviews = len(reviews)

	metrics.MatchOutcomes.WithLabelValues("set", "linked").Add(float64(resp.Linked))
	metrics.MatchOutcomes.WithLabelValues("set", "ambiguous").Add(float64(len(result.Ambiguous)))
	metrics.MatchOutcomes.WithLabelValues("set", "unmatched").Add(float64(len(result.Unmatched)))

	s.logger.WithFields(logrus.Fields{
		"game_id":       game.ID,
		"category_id":   categoryID,
		"linked":        resp.Linked,
		"ambiguous":     len(result.Ambiguous),
		"unmatched":     len(result.Unmatched),
		"completed":     result.Completed,
		"next_group_id": result.NextGroupID,
	}).Info("set 匹配完成")
	return resp, nil
}

// MatchCards 在已关联的 set 内为未关联的卡找目录商品；预算在各 set 之间共享
func (s *MatchService) MatchCards(ctx context.Context, req MatchCardsRequest) (*MatchCardsResponse, error) {
	var sets []*model.Set
	if req.SetID != 0 {
		set, err := s.pricing.GetSet(ctx, req.SetID)
		if err != nil {
			return nil, notFound(err, "set", req.SetID)
		}
		if set.CatalogGroupID == nil {
			return nil, fmt.Errorf("%w: set %d 尚未关联目录 group", ErrInvalidInput, set.ID)
		}
		sets = []*model.Set{set}
	} else {
		if req.GameID == 0 {
			return nil, fmt.Errorf("%w: gameId 与 setId 至少提供一个", ErrInvalidInput)
		}
		list, err := s.pricing.ListLinkedSets(ctx, req.GameID)
		if err != nil {
			return nil, fmt.Errorf("查询已关联 set 失败: %w", err)
		}
		for _, st := range list {
			if st.ID >= req.StartSetID {
				sets = append(sets, st)
			}
		}
	}

	budget := matching.NewBudget(s.cfg.Budget)
	resp := &MatchCardsResponse{Success: true, Sets: []SetCardMatch{}, Completed: true}

	for _, set := range sets {
		if ctx.Err() != nil || budget.Exceeded() {
			resp.Completed = false
			resp.NextSetID = set.ID
			break
		}
		summary, completed, err := s.matchSetCards(ctx, set, budget)
		if err != nil {
			return nil, err
		}
		resp.Sets = append(resp.Sets, summary)
		resp.Linked += summary.Linked
		if !completed {
			// 该 set 没做完，下次从它重新开始；已关联的卡与商品会被排除
			resp.Completed = false
			resp.NextSetID = set.ID
			break
		}
	}

	s.logger.WithFields(logrus.Fields{
		"game_id":     req.GameID,
		"sets":        len(resp.Sets),
		"linked":      resp.Linked,
		"completed":   resp.Completed,
		"next_set_id": resp.NextSetID,
	}).Info("卡牌匹配完成")
	return resp, nil
}

func (s *MatchService) matchSetCards(ctx context.Context, set *model.Set, budget *matching.Budget) (SetCardMatch, bool, error) {
	summary := SetCardMatch{SetID: set.ID, GroupID: *set.CatalogGroupID}

	products, err := s.catalog.ListProductsByGroup(ctx, *set.CatalogGroupID)
	if err != nil {
		return summary, false, fmt.Errorf("查询 group %d 的商品失败: %w", *set.CatalogGroupID, err)
	}
	cards, err := s.pricing.ListCardsBySet(ctx, set.ID)
	if err != nil {
		return summary, false, fmt.Errorf("查询 set %d 的卡牌失败: %w", set.ID, err)
	}

	usedProducts := make(map[int64]bool)
	openCards := make([]*model.Card, 0, len(cards))
	for _, c := range cards {
		if c.CatalogProductID != nil {
			usedProducts[*c.CatalogProductID] = true
			continue
		}
		openCards = append(openCards, c)
	}
	openProducts := make([]*model.CatalogProduct, 0, len(products))
	for _, p := range products {
		if !usedProducts[p.ProductID] {
			openProducts = append(openProducts, p)
		}
	}
	summary.Products, summary.Cards = len(openProducts), len(openCards)

	result := s.norm.MatchCards(openProducts, openCards, matching.CardMatchOptions{
		NameThreshold: s.cfg.CardNameThreshold,
		PoolLimit:     s.cfg.CardPoolLimit,
		Budget:        budget,
	})
	summary.NameSkipped = result.NameSkipped
	summary.Unmatched = len(result.Unmatched)

	for _, m := range result.Matched {
		ok, err := s.pricing.ApplyCardLink(ctx, m.CardID, m.ProductID, m.Score, m.CardMethod, m.LinkMethod)
		if err != nil {
			return summary, false, err
		}
		if ok {
			summary.Linked++
		}
	}
	metrics.MatchOutcomes.WithLabelValues("card", "linked").Add(float64(summary.Linked))
	metrics.MatchOutcomes.WithLabelValues("card", "unmatched").Add(float64(summary.Unmatched))

	if result.NameSkipped {
		s.logger.WithFields(logrus.Fields{
			"set_id": set.ID,
			"cards":  len(openCards),
			"limit":  s.cfg.CardPoolLimit,
		}).Warn("候选卡过多，跳过名称匹配")
	}
	return summary, result.Completed, nil
}

// Suggestions 为某个 set 列出可能对应的目录 group，供人工处理歧义
func (s *MatchService) Suggestions(ctx context.Context, setID uint64, limit int) ([]matching.Suggestion, error) {
	set, err := s.pricing.GetSet(ctx, setID)
	if err != nil {
		return nil, notFound(err, "set", setID)
	}
	var categoryID int64
	if game, err := s.pricing.GetGame(ctx, set.GameID); err == nil && game.CatalogCategoryID != nil {
		categoryID = *game.CatalogCategoryID
	}
	groups, err := s.catalog.ListGroups(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("查询 group 失败: %w", err)
	}
	return s.norm.SuggestGroups(set.Name, groups, limit), nil
}
