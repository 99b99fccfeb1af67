package service

import (
	"context"
	"errors"
	"sync"

	"CardSync/internal/worker"
)

var (
	ErrJobNotFound   = errors.New("同步任务不存在")
	ErrJobNotRunning = errors.New("同步任务已结束")
	ErrNoGroups      = errors.New("没有可同步的 group")
	ErrNotFound      = errors.New("记录不存在")
	ErrInvalidInput  = errors.New("参数错误")
)

// JobTracker 进程内运行中的 job：取消函数与进度订阅。job 结束后从这里移除，持久状态看 sync_jobs
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	cancel context.CancelFunc
	last   *worker.Progress
	subs   map[chan worker.Progress]struct{}
}

func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*trackedJob)}
}

func (t *JobTracker) Start(jobID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &trackedJob{cancel: cancel, subs: make(map[chan worker.Progress]struct{})}
}

// Publish 广播给所有订阅者；订阅者消费慢时丢弃本条
func (t *JobTracker) Publish(jobID string, p worker.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return
	}
	j.last = &p
	for ch := range j.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribe 返回进度通道与退订函数；job 不在运行时 ok=false。
// 订阅时若已有进度，先补发最近一条。job 结束时通道被关闭。
func (t *JobTracker) Subscribe(jobID string) (<-chan worker.Progress, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan worker.Progress, 16)
	if j.last != nil {
		ch <- *j.last
	}
	j.subs[ch] = struct{}{}

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.jobs[jobID]; ok && cur == j {
			if _, ok := j.subs[ch]; ok {
				delete(j.subs, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe, true
}

// Cancel 请求取消；已开始的 group 会做完
func (t *JobTracker) Cancel(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return false
	}
	j.cancel()
	return true
}

func (t *JobTracker) Running(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[jobID]
	return ok
}

// Finish 关闭所有订阅并移除
func (t *JobTracker) Finish(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return
	}
	for ch := range j.subs {
		close(ch)
	}
	j.subs = nil
	delete(t.jobs, jobID)
	j.cancel()
}
