package model

import "time"

// ProductLink 本地卡牌 → 目录源商品的链接表，一张卡最多一条
type ProductLink struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CardID     uint64    `gorm:"column:card_id;type:bigint;uniqueIndex;not null"`
	ProductID  int64     `gorm:"column:product_id;type:bigint;index;not null"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null;comment:匹配时的得分"`
	Method     string    `gorm:"column:method;type:varchar(32);not null"` // exact_number_match / name_similarity
	Verified   bool      `gorm:"column:verified;type:boolean;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductLink) TableName() string { return "product_links" }

const (
	ReviewPending  = "pending"
	ReviewResolved = "resolved"
)

// SetMatchReview 没有自动关联的歧义候选，等待人工处理
type SetMatchReview struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID     int64     `gorm:"column:group_id;type:bigint;not null;uniqueIndex:uq_review_group_set"`
	SetID       uint64    `gorm:"column:set_id;type:bigint;not null;uniqueIndex:uq_review_group_set"`
	Score       float64   `gorm:"column:score;type:double precision;not null"`
	SecondScore float64   `gorm:"column:second_score;type:double precision;not null"`
	Method      string    `gorm:"column:method;type:varchar(32);not null"`
	Status      string    `gorm:"column:status;type:varchar(16);default:'pending'"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SetMatchReview) TableName() string { return "set_match_reviews" }
