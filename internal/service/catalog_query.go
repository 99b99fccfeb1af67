package service

import (
	"context"
	"fmt"
	"time"

	"CardSync/internal/model"
	"CardSync/internal/repository"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// CatalogQueryService 已同步目录数据的只读查询，给人工核对匹配结果用
type CatalogQueryService struct {
	repo   repository.CatalogRepository
	logger *logrus.Logger
}

func NewCatalogQueryService(repo repository.CatalogRepository, logger *logrus.Logger) *CatalogQueryService {
	return &CatalogQueryService{repo: repo, logger: logger}
}

// ListResult 分页返回
type ListResult[T any] struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
	Items    []T `json:"items"`
}

type CategorySummary struct {
	CategoryID  int64      `json:"categoryId"`
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName,omitempty"`
	ModifiedOn  *time.Time `json:"modifiedOn,omitempty"`
}

type GroupSummary struct {
	GroupID        int64      `json:"groupId"`
	CategoryID     int64      `json:"categoryId"`
	Name           string     `json:"name"`
	Abbreviation   string     `json:"abbreviation,omitempty"`
	ReleaseDate    *time.Time `json:"releaseDate,omitempty"`
	IsSupplemental bool       `json:"isSupplemental"`
	IsSealed       bool       `json:"isSealed"`
}

type ProductSummary struct {
	ProductID   int64             `json:"productId"`
	GroupID     int64             `json:"groupId"`
	Name        string            `json:"name"`
	CleanName   string            `json:"cleanName,omitempty"`
	Number      string            `json:"number,omitempty"`
	Rarity      string            `json:"rarity,omitempty"`
	ProductType string            `json:"productType,omitempty"`
	ImageURL    string            `json:"imageUrl,omitempty"`
	MarketPrice *float64          `json:"marketPrice,omitempty"`
	Extended    map[string]string `json:"extended,omitempty"`
}

func (s *CatalogQueryService) ListCategories(ctx context.Context) ([]CategorySummary, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询类目失败: %w", err)
	}
	out := make([]CategorySummary, 0, len(categories))
	for _, c := range categories {
		out = append(out, CategorySummary{
			CategoryID:  c.CategoryID,
			Name:        c.Name,
			DisplayName: c.DisplayName,
			ModifiedOn:  c.ModifiedOn,
		})
	}
	return out, nil
}

func (s *CatalogQueryService) ListGroups(ctx context.Context, categoryID int64, page, pageSize int) (*ListResult[GroupSummary], error) {
	groups, err := s.repo.ListGroups(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("查询类目 %d 的 group 失败: %w", categoryID, err)
	}
	return paginate(groups, page, pageSize, func(g *model.CatalogGroup) GroupSummary {
		return GroupSummary{
			GroupID:        g.GroupID,
			CategoryID:     g.CategoryID,
			Name:           g.Name,
			Abbreviation:   g.Abbreviation,
			ReleaseDate:    g.ReleaseDate,
			IsSupplemental: g.IsSupplemental,
			IsSealed:       g.IsSealed,
		}
	}), nil
}

func (s *CatalogQueryService) ListProducts(ctx context.Context, groupID int64, page, pageSize int) (*ListResult[ProductSummary], error) {
	products, err := s.repo.ListProductsByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("查询 group %d 的商品失败: %w", groupID, err)
	}
	return paginate(products, page, pageSize, func(p *model.CatalogProduct) ProductSummary {
		ps := ProductSummary{
			ProductID:   p.ProductID,
			GroupID:     p.GroupID,
			Name:        p.Name,
			CleanName:   p.CleanName,
			Number:      p.Number,
			Rarity:      p.Rarity,
			ProductType: p.ProductType,
			ImageURL:    p.ImageURL,
			MarketPrice: p.MarketPrice,
		}
		if len(p.Extended) > 0 {
			if err := json.Unmarshal(p.Extended, &ps.Extended); err != nil {
				s.logger.WithError(err).WithField("product_id", p.ProductID).Warn("extended 字段解析失败")
			}
		}
		return ps
	}), nil
}

// paginate page 从 1 开始，pageSize 默认 20、上限 200
func paginate[M any, V any](rows []M, page, pageSize int, view func(M) V) *ListResult[V] {
	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = 20
	}
	pageSize = min(pageSize, 200)

	res := &ListResult[V]{Page: page, PageSize: pageSize, Total: len(rows), Items: []V{}}
	offset := (page - 1) * pageSize
	if offset >= len(rows) {
		return res
	}
	for _, r := range rows[offset:min(offset+pageSize, len(rows))] {
		res.Items = append(res.Items, view(r))
	}
	return res
}
