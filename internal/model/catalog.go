package model

import (
	"time"

	"gorm.io/datatypes"
)

// CatalogCategory 目录源的游戏类目（如 3 = Pokemon），只增改不删
type CatalogCategory struct {
	CategoryID  int64      `gorm:"column:category_id;primaryKey;autoIncrement:false;comment:上游类目ID"`
	Name        string     `gorm:"column:name;type:varchar(128);not null"`
	DisplayName string     `gorm:"column:display_name;type:varchar(128)"`
	ModifiedOn  *time.Time `gorm:"column:modified_on;type:timestamp"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogCategory) TableName() string { return "catalog_categories" }

// CatalogGroup 目录源的 group（即一个系列/扩展包），group_id 不变，名称等元数据可被重新同步覆盖
type CatalogGroup struct {
	GroupID        int64      `gorm:"column:group_id;primaryKey;autoIncrement:false;comment:上游groupID"`
	CategoryID     int64      `gorm:"column:category_id;type:bigint;index;not null"`
	Name           string     `gorm:"column:name;type:varchar(256);not null"`
	Abbreviation   string     `gorm:"column:abbreviation;type:varchar(32)"`
	ReleaseDate    *time.Time `gorm:"column:release_date;type:timestamp"`
	IsSupplemental bool       `gorm:"column:is_supplemental;type:boolean;default:false"`
	IsSealed       bool       `gorm:"column:is_sealed;type:boolean;default:false"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogGroup) TableName() string { return "catalog_groups" }

// CatalogProduct 目录源的商品/卡牌。group_id 为软引用（不建外键，group 可能尚未同步）
type CatalogProduct struct {
	ProductID   int64          `gorm:"column:product_id;primaryKey;autoIncrement:false;comment:上游商品ID"`
	GroupID     int64          `gorm:"column:group_id;type:bigint;index;not null"`
	CategoryID  int64          `gorm:"column:category_id;type:bigint;index;not null"`
	Name        string         `gorm:"column:name;type:varchar(512);not null"`
	CleanName   string         `gorm:"column:clean_name;type:varchar(512)"`
	Number      string         `gorm:"column:number;type:varchar(64)"`
	Rarity      string         `gorm:"column:rarity;type:varchar(64)"`
	ProductType string         `gorm:"column:product_type;type:varchar(64)"`
	Slug        string         `gorm:"column:slug;type:varchar(512)"`
	ImageURL    string         `gorm:"column:image_url;type:varchar(512)"`
	MarketPrice *float64       `gorm:"column:market_price;type:numeric(12,2)"`
	Extended    datatypes.JSON `gorm:"column:extended;type:jsonb;comment:未识别列原样保存"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogProduct) TableName() string { return "catalog_products" }
