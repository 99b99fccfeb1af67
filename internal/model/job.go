package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

const (
	JobKindProducts   = "products"
	JobKindGroups     = "groups"
	JobKindCategories = "categories"
	JobKindPricing    = "pricing"
)

const (
	JobRunning   = "running"
	JobCompleted = "completed" // 全部成功
	JobPartial   = "partial"   // 部分 group 失败
	JobFailed    = "failed"    // 全部失败
	JobCanceled  = "canceled"
)

// SyncJob 一次批量同步。运行中逐个追加成功/失败的 group，finished_at 写入后不再变更
type SyncJob struct {
	ID                string        `gorm:"column:id;type:varchar(36);primaryKey"`
	Kind              string        `gorm:"column:kind;type:varchar(16);not null"`
	CategoryID        int64         `gorm:"column:category_id;type:bigint"`
	TotalGroups       int           `gorm:"column:total_groups;type:int;not null"`
	SucceededGroupIDs pq.Int64Array `gorm:"column:succeeded_group_ids;type:bigint[];not null"`
	FailedGroupIDs    pq.Int64Array `gorm:"column:failed_group_ids;type:bigint[];not null"`
	Status            string        `gorm:"column:status;type:varchar(16);not null;default:'running'"`
	DryRun            bool          `gorm:"column:dry_run;type:boolean;default:false"`
	RetryOf           *string       `gorm:"column:retry_of;type:varchar(36);comment:重试来源 job"`
	Error             *string       `gorm:"column:error;type:text"`
	StartedAt         time.Time     `gorm:"column:started_at;type:timestamp;not null"`
	FinishedAt        *time.Time    `gorm:"column:finished_at;type:timestamp"`
}

func (SyncJob) TableName() string { return "sync_jobs" }

// Finished job 已结束
func (j *SyncJob) Finished() bool { return j.FinishedAt != nil }

// SyncLog 只追加的审计日志
type SyncLog struct {
	ID          uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	OperationID string         `gorm:"column:operation_id;type:varchar(36);index;not null"`
	Operation   string         `gorm:"column:operation;type:varchar(32);not null"`
	Status      string         `gorm:"column:status;type:varchar(16);not null"`
	Message     string         `gorm:"column:message;type:text"`
	Details     datatypes.JSON `gorm:"column:details;type:jsonb"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (SyncLog) TableName() string { return "sync_logs" }
