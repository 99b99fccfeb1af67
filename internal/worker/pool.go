// Package worker 按 AIMD 建议值动态伸缩的 group 任务池
package worker

import (
	"context"
	"sync"
	"time"

	"CardSync/internal/gateway"
	"CardSync/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CanceledError 因取消未开始的 group 的错误文本
const CanceledError = "canceled"

// PermitSource 并发建议值来源（gateway.Throttle）
type PermitSource interface {
	Concurrency() int
	Stats() gateway.Stats
}

// Handler 处理单个 group：抓取 → 解析 → 持久化，group 内串行
type Handler func(ctx context.Context, groupID int64) GroupResult

// GroupResult 单个 group 的处理结果
type GroupResult struct {
	GroupID  int64         `json:"groupId"`
	Fetched  int           `json:"fetched"`
	Upserted int           `json:"upserted"`
	Skipped  int           `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Source   string        `json:"source,omitempty"` // 实际命中的 URL 变体
	Started  bool          `json:"-"`
	Duration time.Duration `json:"-"`
}

// Progress 每完成一个 group 推送一次
type Progress struct {
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	InFlight  int           `json:"inFlight"`
	GroupID   int64         `json:"groupId"`
	Error     string        `json:"error,omitempty"`
	Throttle  gateway.Stats `json:"throttle"`
}

type Options struct {
	Interval time.Duration   // 重新评估 worker 数量的间隔
	Events   chan<- Progress // 可选；非阻塞发送，满了就丢
}

type Pool struct {
	permits  PermitSource
	handler  Handler
	interval time.Duration
	events   chan<- Progress
	logger   *logrus.Logger
}

func NewPool(permits PermitSource, handler Handler, opts Options, logger *logrus.Logger) *Pool {
	if opts.Interval <= 0 {
		opts.Interval = 1500 * time.Millisecond
	}
	return &Pool{
		permits:  permits,
		handler:  handler,
		interval: opts.Interval,
		events:   opts.Events,
		logger:   logger,
	}
}

// run 单次 Run 的可变状态
type run struct {
	mu        sync.Mutex
	queue     []int64
	running   int
	completed int
	total     int
	results   []GroupResult

	drained   chan struct{}
	drainOnce sync.Once
}

func (r *run) markDrained() {
	r.drainOnce.Do(func() { close(r.drained) })
}

// Run 处理全部 groupIDs，返回按完成顺序排列的结果。
// ctx 只在 group 之间检查；因取消未开始的 group 以 Error="canceled" 返回。
func (p *Pool) Run(ctx context.Context, groupIDs []int64) []GroupResult {
	if len(groupIDs) == 0 {
		return []GroupResult{}
	}

	r := &run{
		queue:   append([]int64(nil), groupIDs...),
		total:   len(groupIDs),
		results: make([]GroupResult, 0, len(groupIDs)),
		drained: make(chan struct{}),
	}

	var g errgroup.Group
	spawn := func() {
		r.running++
		metrics.PoolWorkers.Inc()
		g.Go(func() error {
			p.worker(ctx, r)
			return nil
		})
	}

	r.mu.Lock()
	for i := 0; i < min(p.target(), len(r.queue)); i++ {
		spawn()
	}
	r.mu.Unlock()

	g.Go(func() error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-r.drained:
				return nil
			case <-ticker.C:
			}

			r.mu.Lock()
			want := min(p.target()-r.running, len(r.queue))
			for i := 0; i < want; i++ {
				spawn()
			}
			if want > 0 {
				p.logger.WithFields(logrus.Fields{"workers": r.running, "pending": len(r.queue)}).Debug("worker 扩容")
			}
			r.mu.Unlock()
		}
	})

	_ = g.Wait()

	for _, id := range r.queue {
		r.results = append(r.results, GroupResult{GroupID: id, Error: CanceledError})
	}
	if len(r.queue) > 0 {
		p.logger.WithFields(logrus.Fields{"canceled": len(r.queue), "total": r.total}).Warn("同步被取消，剩余 group 未执行")
	}
	return r.results
}

func (p *Pool) worker(ctx context.Context, r *run) {
	defer metrics.PoolWorkers.Dec()

	for {
		r.mu.Lock()
		if ctx.Err() != nil {
			r.running--
			r.mu.Unlock()
			return
		}
		if len(r.queue) == 0 {
			r.running--
			r.mu.Unlock()
			r.markDrained()
			return
		}
		id := r.queue[0]
		r.queue = r.queue[1:]
		if len(r.queue) == 0 {
			r.markDrained()
		}
		r.mu.Unlock()

		start := time.Now()
		res := p.handler(ctx, id)
		res.GroupID = id
		res.Started = true
		res.Duration = time.Since(start)

		r.mu.Lock()
		r.completed++
		r.results = append(r.results, res)
		progress := Progress{
			Completed: r.completed,
			Total:     r.total,
			InFlight:  r.running,
			GroupID:   id,
			Error:     res.Error,
		}
		// AIMD 收缩后多出来的 worker 做完手头的 group 就退出，名额在锁内释放
		shrink := r.running > p.target()
		if shrink {
			r.running--
		}
		r.mu.Unlock()

		p.publish(progress)
		if shrink {
			return
		}
	}
}

func (p *Pool) target() int {
	return max(1, p.permits.Concurrency())
}

func (p *Pool) publish(progress Progress) {
	if p.events == nil {
		return
	}
	progress.Throttle = p.permits.Stats()
	select {
	case p.events <- progress:
	default:
	}
}
