package repository

import (
	"context"
	"fmt"

	"CardSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PricingRepository 价格源 game/set/card 以及匹配链接的读写
type PricingRepository interface {
	UpsertGames(ctx context.Context, games []*model.Game) error
	UpsertSets(ctx context.Context, sets []*model.Set) error
	UpsertCards(ctx context.Context, cards []*model.Card) error

	GetGame(ctx context.Context, id uint64) (*model.Game, error)
	GetSet(ctx context.Context, id uint64) (*model.Set, error)
	// ListUnlinkedSets gameID 为 0 时不限游戏；按 id 升序
	ListUnlinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error)
	ListLinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error)
	ListCardsBySet(ctx context.Context, setID uint64) ([]*model.Card, error)

	// ApplySetLink 只在 set 尚未关联时写入，返回是否真正写入
	ApplySetLink(ctx context.Context, setID uint64, groupID int64, confidence float64, method string) (bool, error)
	// ApplyCardLink 写 card 的关联字段并 upsert product_links（同一事务）
	ApplyCardLink(ctx context.Context, cardID uint64, productID int64, confidence float64, cardMethod, linkMethod string) (bool, error)
	SaveSetReviews(ctx context.Context, reviews []*model.SetMatchReview) error
}

type pricingRepository struct {
	db *gorm.DB
}

func NewPricingRepository(db *gorm.DB) PricingRepository {
	return &pricingRepository{db: db}
}

// UpsertGames 价格源给出目录类目时刷新 catalog_category_id，没给时保留已有值（可能是人工映射）
func (r *pricingRepository) UpsertGames(ctx context.Context, games []*model.Game) error {
	if len(games) == 0 {
		return nil
	}
	updates := append(clause.AssignmentColumns([]string{"name", "slug", "updated_at"}), clause.Assignment{
		Column: clause.Column{Name: "catalog_category_id"},
		Value:  gorm.Expr("COALESCE(excluded.catalog_category_id, games.catalog_category_id)"),
	})
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pricing_id"}},
		DoUpdates: updates,
	}).Create(&games).Error
}

// UpsertSets 重新同步不覆盖已有的匹配字段
func (r *pricingRepository) UpsertSets(ctx context.Context, sets []*model.Set) error {
	if len(sets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pricing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"game_id", "name", "code", "release_date", "updated_at"}),
	}).Create(&sets).Error
}

func (r *pricingRepository) UpsertCards(ctx context.Context, cards []*model.Card) error {
	if len(cards) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pricing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"set_id", "name", "number", "rarity", "prices", "updated_at"}),
	}).Create(&cards).Error
}

func (r *pricingRepository) GetGame(ctx context.Context, id uint64) (*model.Game, error) {
	var g model.Game
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *pricingRepository) GetSet(ctx context.Context, id uint64) (*model.Set, error) {
	var s model.Set
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pricingRepository) ListUnlinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error) {
	return r.listSets(ctx, gameID, "catalog_group_id IS NULL")
}

func (r *pricingRepository) ListLinkedSets(ctx context.Context, gameID uint64) ([]*model.Set, error) {
	return r.listSets(ctx, gameID, "catalog_group_id IS NOT NULL")
}

func (r *pricingRepository) listSets(ctx context.Context, gameID uint64, cond string) ([]*model.Set, error) {
	db := r.db.WithContext(ctx).Where(cond)
	if gameID != 0 {
		db = db.Where("game_id = ?", gameID)
	}
	var list []*model.Set
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *pricingRepository) ListCardsBySet(ctx context.Context, setID uint64) ([]*model.Card, error) {
	var list []*model.Card
	if err := r.db.WithContext(ctx).Where("set_id = ?", setID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *pricingRepository) ApplySetLink(ctx context.Context, setID uint64, groupID int64, confidence float64, method string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Set{}).
		Where("id = ? AND catalog_group_id IS NULL", setID).
		Updates(map[string]interface{}{
			"catalog_group_id": groupID,
			"match_confidence": confidence,
			"match_method":     method,
		})
	if res.Error != nil {
		return false, fmt.Errorf("写入 set 关联失败: %w, set_id: %d", res.Error, setID)
	}
	return res.RowsAffected > 0, nil
}

func (r *pricingRepository) ApplyCardLink(ctx context.Context, cardID uint64, productID int64, confidence float64, cardMethod, linkMethod string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Card{}).
			Where("id = ? AND catalog_product_id IS NULL", cardID).
			Updates(map[string]interface{}{
				"catalog_product_id": productID,
				"match_confidence":   confidence,
				"match_method":       cardMethod,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		link := &model.ProductLink{
			CardID:     cardID,
			ProductID:  productID,
			Confidence: confidence,
			Method:     linkMethod,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "card_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "confidence", "method", "updated_at"}),
		}).Create(link).Error
	})
	if err != nil {
		return false, fmt.Errorf("写入 card 关联失败: %w, card_id: %d", err, cardID)
	}
	return applied, nil
}

func (r *pricingRepository) SaveSetReviews(ctx context.Context, reviews []*model.SetMatchReview) error {
	if len(reviews) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "set_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "second_score", "method", "updated_at"}),
	}).Create(&reviews).Error
}
