package interfaces

import (
	"context"

	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/model"

	"github.com/sirupsen/logrus"
)

// Source 所有上游数据源的公共部分
type Source interface {
	Name() string
	Throttle() *gateway.Throttle
}

// FetchStats 一次拉取的统计：Fetched 为解析出的行数，Skipped 为缺少必填字段被丢弃的行数
type FetchStats struct {
	Fetched int    `json:"fetched"`
	Skipped int    `json:"skipped"`
	Source  string `json:"source"` // 实际命中的路径（CSV 变体或 JSON）
}

// CatalogSource 目录源：类目 → group → 商品
type CatalogSource interface {
	Source
	FetchCategories(ctx context.Context) ([]*model.CatalogCategory, FetchStats, error)
	FetchGroups(ctx context.Context, categoryID int64) ([]*model.CatalogGroup, FetchStats, error)
	FetchProducts(ctx context.Context, categoryID, groupID int64) ([]*model.CatalogProduct, FetchStats, error)
}

// PricingSource 价格源：游戏 → set → 卡牌，ID 均为价格源的字符串ID
type PricingSource interface {
	Source
	FetchGames(ctx context.Context) ([]*model.Game, FetchStats, error)
	FetchSets(ctx context.Context, gamePricingID string) ([]*model.Set, FetchStats, error)
	FetchCards(ctx context.Context, setPricingID string) ([]*model.Card, FetchStats, error)
}

// Factory 数据源工厂函数：入参为该上游的网关、配置与日志
type Factory func(gw *gateway.Gateway, cfg *config.UpstreamConfig, logger *logrus.Logger) Source
