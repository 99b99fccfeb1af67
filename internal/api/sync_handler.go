package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"CardSync/internal/gateway"
	"CardSync/internal/service"
	"CardSync/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CatalogSyncer 目录源同步（service.CatalogSyncService）
type CatalogSyncer interface {
	SyncCategories(ctx context.Context, dryRun bool) (*service.EntitySyncResult, error)
	SyncGroups(ctx context.Context, categoryID int64, dryRun bool) (*service.EntitySyncResult, error)
	SyncProducts(ctx context.Context, req service.ProductSyncRequest) (*service.ProductSyncResponse, error)
	GetJob(ctx context.Context, jobID string) (*service.JobView, error)
	CancelJob(ctx context.Context, jobID string) error
	Subscribe(jobID string) (<-chan worker.Progress, func(), bool)
}

type SyncHandler struct {
	catalog   CatalogSyncer
	throttles func() []gateway.Stats
	logger    *logrus.Logger
}

func NewSyncHandler(catalog CatalogSyncer, throttles func() []gateway.Stats, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		catalog:   catalog,
		throttles: throttles,
		logger:    logger,
	}
}

// SyncCategories 同步全部类目
// POST /sync/categories?dry_run=true
func (h *SyncHandler) SyncCategories(c *gin.Context) {
	res, err := h.catalog.SyncCategories(c.Request.Context(), queryBool(c, "dry_run"))
	if err != nil {
		writeError(c, h.logger, "SyncCategories", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SyncGroups 同步某类目下的 group
// POST /sync/categories/:category_id/groups?dry_run=true
func (h *SyncHandler) SyncGroups(c *gin.Context) {
	categoryID, ok := paramInt64(c, "category_id")
	if !ok {
		return
	}
	res, err := h.catalog.SyncGroups(c.Request.Context(), categoryID, queryBool(c, "dry_run"))
	if err != nil {
		writeError(c, h.logger, "SyncGroups", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SyncProducts 按 group 批量同步商品；background=true 时返回 202 与 jobId
// POST /sync/products
func (h *SyncHandler) SyncProducts(c *gin.Context) {
	var req service.ProductSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}
	resp, err := h.catalog.SyncProducts(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "SyncProducts", err)
		return
	}
	if req.Background {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob 查询同步任务
// GET /sync/jobs/:job_id
func (h *SyncHandler) GetJob(c *gin.Context) {
	job, err := h.catalog.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeError(c, h.logger, "GetJob", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob 取消运行中的任务
// POST /sync/jobs/:job_id/cancel
func (h *SyncHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.catalog.CancelJob(c.Request.Context(), jobID); err != nil {
		writeError(c, h.logger, "CancelJob", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "message": "已请求取消"})
}

// JobEvents 以 SSE 推送任务进度，任务结束时推送一条 done 后关闭
// GET /sync/jobs/:job_id/events
func (h *SyncHandler) JobEvents(c *gin.Context) {
	jobID := c.Param("job_id")
	events, unsubscribe, ok := h.catalog.Subscribe(jobID)
	if !ok {
		// 已结束（或不存在）的任务直接给最终状态
		job, err := h.catalog.GetJob(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, h.logger, "JobEvents", err)
			return
		}
		c.SSEvent("done", job)
		return
	}
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case p, open := <-events:
			if !open {
				if job, err := h.catalog.GetJob(context.WithoutCancel(ctx), jobID); err == nil {
					c.SSEvent("done", job)
				}
				return false
			}
			c.SSEvent("progress", p)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Throttle 各上游当前的令牌、并发与熔断状态
// GET /throttle
func (h *SyncHandler) Throttle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"upstreams": h.throttles()})
}

func writeError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrNoGroups):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrJobNotRunning):
		status = http.StatusConflict
	case errors.Is(err, gateway.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{"op": op, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("请求处理失败")
	} else {
		entry.Warn("请求被拒绝")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " 必须为正整数"})
		return 0, false
	}
	return v, true
}

func paramUint64(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " 必须为正整数"})
		return 0, false
	}
	return v, true
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.DefaultQuery(name, "false"))
	return v
}
