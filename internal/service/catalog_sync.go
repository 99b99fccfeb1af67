package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/interfaces"
	"CardSync/internal/metrics"
	"CardSync/internal/model"
	"CardSync/internal/repository"
	"CardSync/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProductSyncRequest 商品同步请求。groupIds > retryJobId > categoryId 依次决定 group 列表
type ProductSyncRequest struct {
	CategoryID int64   `json:"categoryId"`
	GroupIDs   []int64 `json:"groupIds"`
	DryRun     bool    `json:"dryRun"`
	MaxGroups  int     `json:"maxGroups"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	Background bool    `json:"background"`
	RetryJobID string  `json:"retryJobId"`
}

type ProductSyncResponse struct {
	Success  bool                 `json:"success"`
	JobID    string               `json:"jobId,omitempty"`
	Status   string               `json:"status"`
	Total    int                  `json:"total"`
	Results  []worker.GroupResult `json:"results"`
	NextPage *int                 `json:"nextPage"`
	HasMore  bool                 `json:"hasMore"`
	Throttle gateway.Stats        `json:"throttle"`
}

// EntitySyncResult 类目/group/价格源等单次列表同步的结果
type EntitySyncResult struct {
	Success  bool          `json:"success"`
	Fetched  int           `json:"fetched"`
	Upserted int           `json:"upserted"`
	Skipped  int           `json:"skipped"`
	Source   string        `json:"source,omitempty"`
	Throttle gateway.Stats `json:"throttle"`
}

// JobView sync_jobs 的对外视图
type JobView struct {
	ID                string     `json:"jobId"`
	Kind              string     `json:"kind"`
	CategoryID        int64      `json:"categoryId"`
	Status            string     `json:"status"`
	TotalGroups       int        `json:"totalGroups"`
	SucceededGroupIDs []int64    `json:"succeededGroupIds"`
	FailedGroupIDs    []int64    `json:"failedGroupIds"`
	DryRun            bool       `json:"dryRun"`
	RetryOf           *string    `json:"retryOf,omitempty"`
	Error             *string    `json:"error,omitempty"`
	Running           bool       `json:"running"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
}

type CatalogSyncService struct {
	catalog   interfaces.CatalogSource
	repo      repository.CatalogRepository
	jobs      repository.JobRepository
	tracker   *JobTracker
	persister *Persister
	cfg       config.SyncConfig
	logger    *logrus.Logger
}

func NewCatalogSyncService(
	catalog interfaces.CatalogSource,
	repo repository.CatalogRepository,
	jobs repository.JobRepository,
	tracker *JobTracker,
	persister *Persister,
	cfg config.SyncConfig,
	logger *logrus.Logger,
) *CatalogSyncService {
	return &CatalogSyncService{
		catalog:   catalog,
		repo:      repo,
		jobs:      jobs,
		tracker:   tracker,
		persister: persister,
		cfg:       cfg,
		logger:    logger,
	}
}

// SyncCategories 拉取并 upsert 全部类目
func (s *CatalogSyncService) SyncCategories(ctx context.Context, dryRun bool) (*EntitySyncResult, error) {
	opID := uuid.NewString()
	categories, stats, err := s.catalog.FetchCategories(ctx)
	if err != nil {
		s.appendLog(ctx, opID, "sync_categories", model.JobFailed, err.Error(), nil)
		return nil, err
	}
	metrics.RowsDropped.WithLabelValues("category").Add(float64(stats.Skipped))

	res := &EntitySyncResult{Fetched: stats.Fetched, Skipped: stats.Skipped, Source: stats.Source}
	if !dryRun {
		n, err := UpsertDeduped(ctx, s.persister, categories,
			func(c *model.CatalogCategory) int64 { return c.CategoryID }, s.repo.UpsertCategories)
		res.Upserted = n
		metrics.RecordsUpserted.WithLabelValues("category").Add(float64(n))
		if err != nil {
			s.appendLog(ctx, opID, "sync_categories", model.JobPartial, err.Error(), res)
			return nil, fmt.Errorf("类目入库失败: %w", err)
		}
	}
	res.Success = true
	res.Throttle = s.catalog.Throttle().Stats()
	s.appendLog(ctx, opID, "sync_categories", model.JobCompleted, "", res)
	s.logger.WithFields(logrus.Fields{
		"fetched":  res.Fetched,
		"upserted": res.Upserted,
		"dry_run":  dryRun,
	}).Info("类目同步完成")
	return res, nil
}

// SyncGroups 拉取并 upsert 某类目下的全部 group
func (s *CatalogSyncService) SyncGroups(ctx context.Context, categoryID int64, dryRun bool) (*EntitySyncResult, error) {
	if categoryID <= 0 {
		return nil, fmt.Errorf("%w: categoryId 必须为正数", ErrInvalidInput)
	}
	opID := uuid.NewString()
	groups, stats, err := s.catalog.FetchGroups(ctx, categoryID)
	if err != nil {
		s.appendLog(ctx, opID, "sync_groups", model.JobFailed, err.Error(), map[string]int64{"categoryId": categoryID})
		return nil, err
	}
	metrics.RowsDropped.WithLabelValues("group").Add(float64(stats.Skipped))

	res := &EntitySyncResult{Fetched: stats.Fetched, Skipped: stats.Skipped, Source: stats.Source}
	if !dryRun {
		n, err := UpsertDeduped(ctx, s.persister, groups,
			func(g *model.CatalogGroup) int64 { return g.GroupID }, s.repo.UpsertGroups)
		res.Upserted = n
		metrics.RecordsUpserted.WithLabelValues("group").Add(float64(n))
		if err != nil {
			s.appendLog(ctx, opID, "sync_groups", model.JobPartial, err.Error(), res)
			return nil, fmt.Errorf("group 入库失败: %w", err)
		}
	}
	res.Success = true
	res.Throttle = s.catalog.Throttle().Stats()
	s.appendLog(ctx, opID, "sync_groups", model.JobCompleted, "", res)
	s.logger.WithFields(logrus.Fields{
		"category_id": categoryID,
		"fetched":     res.Fetched,
		"upserted":    res.Upserted,
		"dry_run":     dryRun,
	}).Info("group 同步完成")
	return res, nil
}

// groupPlan 本次要处理的 group（已分页）
type groupPlan struct {
	categoryID int64
	groups     []int64
	nextPage   *int
	hasMore    bool
	retryOf    *string
}

func (s *CatalogSyncService) planGroups(ctx context.Context, req ProductSyncRequest) (*groupPlan, error) {
	plan := &groupPlan{categoryID: req.CategoryID}
	var all []int64

	switch {
	case len(req.GroupIDs) > 0:
		all = Dedupe(req.GroupIDs, func(id int64) int64 { return id })
		for _, id := range all {
			if id <= 0 {
				return nil, fmt.Errorf("%w: 无效的 groupId %d", ErrInvalidInput, id)
			}
		}
	case req.RetryJobID != "":
		job, err := s.GetJob(ctx, req.RetryJobID)
		if err != nil {
			return nil, err
		}
		if job.Running || job.FinishedAt == nil {
			return nil, fmt.Errorf("%w: 任务 %s 仍在运行", ErrInvalidInput, job.ID)
		}
		all = job.FailedGroupIDs
		if plan.categoryID == 0 {
			plan.categoryID = job.CategoryID
		}
		plan.retryOf = &job.ID
	case req.CategoryID > 0:
		ids, err := s.repo.ListGroupIDs(ctx, req.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("查询类目 %d 的 group 失败: %w", req.CategoryID, err)
		}
		all = ids
	default:
		return nil, fmt.Errorf("%w: categoryId、groupIds、retryJobId 至少提供一个", ErrInvalidInput)
	}
	if len(all) == 0 {
		return nil, ErrNoGroups
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	if req.MaxGroups > 0 && (pageSize <= 0 || req.MaxGroups < pageSize) {
		pageSize = req.MaxGroups
	}
	if pageSize <= 0 {
		pageSize = len(all)
	}
	page := max(req.Page, 1)

	offset := (page - 1) * pageSize
	if offset >= len(all) {
		plan.groups = []int64{}
		return plan, nil
	}
	end := min(offset+pageSize, len(all))
	plan.groups = all[offset:end]
	if end < len(all) {
		next := page + 1
		plan.nextPage = &next
		plan.hasMore = true
	}
	return plan, nil
}

// SyncProducts 按 group 并发拉取商品并入库。background=true 时创建任务后立即返回
func (s *CatalogSyncService) SyncProducts(ctx context.Context, req ProductSyncRequest) (*ProductSyncResponse, error) {
	if req.Background && req.DryRun {
		return nil, fmt.Errorf("%w: dryRun 不支持 background", ErrInvalidInput)
	}
	plan, err := s.planGroups(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &ProductSyncResponse{
		Success:  true,
		Status:   model.JobCompleted,
		Total:    len(plan.groups),
		Results:  []worker.GroupResult{},
		NextPage: plan.nextPage,
		HasMore:  plan.hasMore,
		Throttle: s.catalog.Throttle().Stats(),
	}
	if len(plan.groups) == 0 {
		return resp, nil
	}

	var job *model.SyncJob
	if !req.DryRun {
		job = &model.SyncJob{
			ID:          uuid.NewString(),
			Kind:        model.JobKindProducts,
			CategoryID:  plan.categoryID,
			TotalGroups: len(plan.groups),
			Status:      model.JobRunning,
			RetryOf:     plan.retryOf,
			StartedAt:   time.Now(),
		}
		if err := s.jobs.CreateJob(ctx, job); err != nil {
			return nil, err
		}
		resp.JobID = job.ID
	}

	if req.Background {
		// 后台任务不跟随请求取消，只能通过 cancel 接口停止
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.tracker.Start(job.ID, cancel)
		go s.runProducts(runCtx, job, plan)
		resp.Status = model.JobRunning
		return resp, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if job != nil {
		s.tracker.Start(job.ID, cancel)
	}
	results, status := s.runProducts(runCtx, job, plan)
	resp.Results = results
	resp.Status = status
	resp.Success = status != model.JobFailed
	resp.Throttle = s.catalog.Throttle().Stats()
	return resp, nil
}

// runProducts 跑完一页 group；job 为 nil 表示 dry run
func (s *CatalogSyncService) runProducts(ctx context.Context, job *model.SyncJob, plan *groupPlan) ([]worker.GroupResult, string) {
	bg := context.WithoutCancel(ctx)
	jobID := ""
	if job != nil {
		jobID = job.ID
		defer s.tracker.Finish(jobID)
		s.appendLog(bg, jobID, "sync_products", model.JobRunning, "", map[string]any{
			"categoryId": plan.categoryID,
			"groups":     len(plan.groups),
			"retryOf":    plan.retryOf,
		})
	}

	var (
		events chan worker.Progress
		fwd    sync.WaitGroup
	)
	if job != nil {
		events = make(chan worker.Progress, 64)
		fwd.Add(1)
		go func() {
			defer fwd.Done()
			for p := range events {
				s.tracker.Publish(jobID, p)
			}
		}()
	}

	pool := worker.NewPool(s.catalog.Throttle(), s.groupHandler(job, plan.categoryID), worker.Options{
		Interval: s.cfg.RescaleInterval,
		Events:   events,
	}, s.logger)
	results := pool.Run(ctx, plan.groups)
	if events != nil {
		close(events)
		fwd.Wait()
	}

	failed := 0
	for _, r := range results {
		switch {
		case !r.Started:
			metrics.SyncGroups.WithLabelValues("canceled").Inc()
			failed++
			if job != nil {
				if err := s.jobs.MarkGroup(bg, jobID, r.GroupID, false); err != nil {
					s.logger.WithError(err).WithField("group_id", r.GroupID).Warn("记录取消的 group 失败")
				}
			}
		case r.Error != "":
			failed++
		}
	}

	status := model.JobCompleted
	switch {
	case ctx.Err() != nil:
		status = model.JobCanceled
	case failed == len(results):
		status = model.JobFailed
	case failed > 0:
		status = model.JobPartial
	}

	fields := logrus.Fields{
		"job_id":  jobID,
		"groups":  len(results),
		"failed":  failed,
		"status":  status,
		"dry_run": job == nil,
	}
	if job != nil {
		var errMsg *string
		if failed > 0 {
			msg := fmt.Sprintf("%d/%d 个 group 失败", failed, len(results))
			errMsg = &msg
		}
		if err := s.jobs.FinishJob(bg, jobID, status, errMsg); err != nil {
			s.logger.WithError(err).WithFields(fields).Error("结束同步任务失败")
		}
		s.appendLog(bg, jobID, "sync_products", status, "", map[string]any{"groups": len(results), "failed": failed})
	}
	s.logger.WithFields(fields).Info("商品同步结束")
	return results, status
}

func (s *CatalogSyncService) groupHandler(job *model.SyncJob, categoryID int64) worker.Handler {
	return func(ctx context.Context, groupID int64) worker.GroupResult {
		res := worker.GroupResult{GroupID: groupID}
		err := s.syncGroup(ctx, groupID, categoryID, job == nil, &res)
		if err != nil {
			res.Error = err.Error()
			metrics.SyncGroups.WithLabelValues("failed").Inc()
			s.logger.WithError(err).WithFields(logrus.Fields{
				"group_id": groupID,
				"fetched":  res.Fetched,
				"upserted": res.Upserted,
			}).Warn("group 同步失败")
		} else {
			metrics.SyncGroups.WithLabelValues("succeeded").Inc()
		}

		if job != nil {
			if mErr := s.jobs.MarkGroup(context.WithoutCancel(ctx), job.ID, groupID, err == nil); mErr != nil {
				s.logger.WithError(mErr).WithField("group_id", groupID).Warn("记录 group 结果失败")
			}
		}
		return res
	}
}

// syncGroup 单个 group：抓取 → 解析 → 去重分批入库，串行执行
func (s *CatalogSyncService) syncGroup(ctx context.Context, groupID, categoryID int64, dryRun bool, res *worker.GroupResult) error {
	if categoryID <= 0 {
		g, err := s.repo.GetGroup(ctx, groupID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("group %d 尚未同步，无法确定类目: %w", groupID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("查询 group %d 失败: %w", groupID, err)
		}
		categoryID = g.CategoryID
	}

	products, stats, err := s.catalog.FetchProducts(ctx, categoryID, groupID)
	res.Fetched, res.Skipped, res.Source = stats.Fetched, stats.Skipped, stats.Source
	if err != nil {
		return err
	}
	metrics.RowsDropped.WithLabelValues("product").Add(float64(stats.Skipped))
	if dryRun {
		return nil
	}

	// 已开始的 group 写完再响应取消
	n, err := UpsertDeduped(context.WithoutCancel(ctx), s.persister, products,
		func(p *model.CatalogProduct) int64 { return p.ProductID }, s.repo.UpsertProducts)
	res.Upserted = n
	metrics.RecordsUpserted.WithLabelValues("product").Add(float64(n))
	if err != nil {
		return fmt.Errorf("商品入库失败: %w", err)
	}
	return nil
}

func (s *CatalogSyncService) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询同步任务失败: %w", err)
	}
	return &JobView{
		ID:                job.ID,
		Kind:              job.Kind,
		CategoryID:        job.CategoryID,
		Status:            job.Status,
		TotalGroups:       job.TotalGroups,
		SucceededGroupIDs: nonNil(job.SucceededGroupIDs),
		FailedGroupIDs:    nonNil(job.FailedGroupIDs),
		DryRun:            job.DryRun,
		RetryOf:           job.RetryOf,
		Error:             job.Error,
		Running:           s.tracker.Running(job.ID),
		StartedAt:         job.StartedAt,
		FinishedAt:        job.FinishedAt,
	}, nil
}

// CancelJob 取消运行中的任务；已开始的 group 会做完
func (s *CatalogSyncService) CancelJob(ctx context.Context, jobID string) error {
	if s.tracker.Cancel(jobID) {
		s.logger.WithField("job_id", jobID).Info("已请求取消同步任务")
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrJobNotRunning, jobID)
}

// Subscribe 订阅运行中任务的进度
func (s *CatalogSyncService) Subscribe(jobID string) (<-chan worker.Progress, func(), bool) {
	return s.tracker.Subscribe(jobID)
}

func (s *CatalogSyncService) Throttle() gateway.Stats {
	return s.catalog.Throttle().Stats()
}

func (s *CatalogSyncService) appendLog(ctx context.Context, opID, operation, status, message string, details any) {
	appendSyncLog(ctx, s.jobs, s.logger, opID, operation, status, message, details)
}

func appendSyncLog(ctx context.Context, jobs repository.JobRepository, logger *logrus.Logger, opID, operation, status, message string, details any) {
	entry := &model.SyncLog{
		OperationID: opID,
		Operation:   operation,
		Status:      status,
		Message:     message,
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(raw)
		}
	}
	if err := jobs.AppendLog(ctx, entry); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"operation_id": opID,
			"operation":    operation,
		}).Warn("写入同步日志失败")
	}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
