package model

import (
	"time"

	"gorm.io/datatypes"
)

// Game 价格源的游戏，pricing_id 为价格源的不透明字符串ID
type Game struct {
	ID                uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	PricingID         string    `gorm:"column:pricing_id;type:varchar(128);uniqueIndex;not null"`
	Name              string    `gorm:"column:name;type:varchar(128);not null"`
	Slug              string    `gorm:"column:slug;type:varchar(128)"`
	CatalogCategoryID *int64    `gorm:"column:catalog_category_id;type:bigint"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Game) TableName() string { return "games" }

// Set 本地系列。catalog_group_id 非空即已关联到目录源 group（匹配链接）
type Set struct {
	ID              uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	GameID          uint64     `gorm:"column:game_id;type:bigint;index;not null"`
	PricingID       string     `gorm:"column:pricing_id;type:varchar(128);uniqueIndex;not null"`
	Name            string     `gorm:"column:name;type:varchar(256);not null"`
	Code            string     `gorm:"column:code;type:varchar(32)"`
	ReleaseDate     *time.Time `gorm:"column:release_date;type:timestamp"`
	CatalogGroupID  *int64     `gorm:"column:catalog_group_id;type:bigint;index"`
	MatchConfidence *float64   `gorm:"column:match_confidence;type:double precision"`
	MatchMethod     *string    `gorm:"column:match_method;type:varchar(32)"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Set) TableName() string { return "sets" }

// Card 本地卡牌。catalog_product_id 非空即已关联到目录源商品
type Card struct {
	ID               uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	SetID            uint64         `gorm:"column:set_id;type:bigint;index;not null"`
	PricingID        string         `gorm:"column:pricing_id;type:varchar(128);uniqueIndex;not null"`
	Name             string         `gorm:"column:name;type:varchar(512);not null"`
	Number           string         `gorm:"column:number;type:varchar(64)"`
	Rarity           string         `gorm:"column:rarity;type:varchar(64)"`
	Prices           datatypes.JSON `gorm:"column:prices;type:jsonb"`
	CatalogProductID *int64         `gorm:"column:catalog_product_id;type:bigint;index"`
	MatchConfidence  *float64       `gorm:"column:match_confidence;type:double precision"`
	MatchMethod      *string        `gorm:"column:match_method;type:varchar(32)"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Card) TableName() string { return "cards" }
