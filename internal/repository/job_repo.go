package repository

import (
	"context"
	"fmt"
	"time"

	"CardSync/internal/model"

	"gorm.io/gorm"
)

// JobRepository 同步任务与审计日志
type JobRepository interface {
	CreateJob(ctx context.Context, job *model.SyncJob) error
	// MarkGroup 追加到 succeeded/failed 数组，job 结束后不再生效
	MarkGroup(ctx context.Context, jobID string, groupID int64, ok bool) error
	FinishJob(ctx context.Context, jobID, status string, errMsg *string) error
	GetJob(ctx context.Context, jobID string) (*model.SyncJob, error)
	AppendLog(ctx context.Context, entry *model.SyncLog) error
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) CreateJob(ctx context.Context, job *model.SyncJob) error {
	if job.SucceededGroupIDs == nil {
		job.SucceededGroupIDs = []int64{}
	}
	if job.FailedGroupIDs == nil {
		job.FailedGroupIDs = []int64{}
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("创建同步任务失败: %w", err)
	}
	return nil
}

func (r *jobRepository) MarkGroup(ctx context.Context, jobID string, groupID int64, ok bool) error {
	column := "failed_group_ids"
	if ok {
		column = "succeeded_group_ids"
	}
	err := r.db.WithContext(ctx).Model(&model.SyncJob{}).
		Where("id = ? AND finished_at IS NULL", jobID).
		Update(column, gorm.Expr("array_append("+column+", ?)", groupID)).Error
	if err != nil {
		return fmt.Errorf("更新任务进度失败: %w, job_id: %s", err, jobID)
	}
	return nil
}

func (r *jobRepository) FinishJob(ctx context.Context, jobID, status string, errMsg *string) error {
	err := r.db.WithContext(ctx).Model(&model.SyncJob{}).
		Where("id = ? AND finished_at IS NULL", jobID).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("结束同步任务失败: %w, job_id: %s", err, jobID)
	}
	return nil
}

func (r *jobRepository) GetJob(ctx context.Context, jobID string) (*model.SyncJob, error) {
	var job model.SyncJob
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) AppendLog(ctx context.Context, entry *model.SyncLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
