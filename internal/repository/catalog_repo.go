package repository

import (
	"context"

	"CardSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository 目录源 category/group/product 仓储。写入均为按主键 upsert，后写覆盖
type CatalogRepository interface {
	UpsertCategories(ctx context.Context, categories []*model.CatalogCategory) error
	UpsertGroups(ctx context.Context, groups []*model.CatalogGroup) error
	UpsertProducts(ctx context.Context, products []*model.CatalogProduct) error
	ListCategories(ctx context.Context) ([]*model.CatalogCategory, error)
	// ListGroupIDs 按 group_id 升序
	ListGroupIDs(ctx context.Context, categoryID int64) ([]int64, error)
	// ListGroups categoryID 为 0 时返回全部
	ListGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, error)
	GetGroup(ctx context.Context, groupID int64) (*model.CatalogGroup, error)
	ListProductsByGroup(ctx context.Context, groupID int64) ([]*model.CatalogProduct, error)
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) UpsertCategories(ctx context.Context, categories []*model.CatalogCategory) error {
	if len(categories) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "display_name", "modified_on", "updated_at"}),
	}).Create(&categories).Error
}

func (r *catalogRepository) UpsertGroups(ctx context.Context, groups []*model.CatalogGroup) error {
	if len(groups) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category_id", "name", "abbreviation", "release_date", "is_supplemental", "is_sealed", "updated_at"}),
	}).Create(&groups).Error
}

func (r *catalogRepository) UpsertProducts(ctx context.Context, products []*model.CatalogProduct) error {
	if len(products) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		UpdateAll: true,
	}).Create(&products).Error
}

func (r *catalogRepository) ListCategories(ctx context.Context) ([]*model.CatalogCategory, error) {
	var list []*model.CatalogCategory
	if err := r.db.WithContext(ctx).Order("category_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *catalogRepository) ListGroupIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.CatalogGroup{}).
		Where("category_id = ?", categoryID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *catalogRepository) ListGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, error) {
	db := r.db.WithContext(ctx).Model(&model.CatalogGroup{})
	if categoryID != 0 {
		db = db.Where("category_id = ?", categoryID)
	}
	var list []*model.CatalogGroup
	if err := db.Order("group_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *catalogRepository) GetGroup(ctx context.Context, groupID int64) (*model.CatalogGroup, error) {
	var g model.CatalogGroup
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *catalogRepository) ListProductsByGroup(ctx context.Context, groupID int64) ([]*model.CatalogProduct, error) {
	var list []*model.CatalogProduct
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("product_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
