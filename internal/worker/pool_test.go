package worker

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CardSync/internal/gateway"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePermits struct {
	n atomic.Int32
}

func (f *fakePermits) Concurrency() int { return int(f.n.Load()) }

func (f *fakePermits) Stats() gateway.Stats {
	return gateway.Stats{Concurrency: f.Concurrency()}
}

func newPermits(n int) *fakePermits {
	p := &fakePermits{}
	p.n.Store(int32(n))
	return p
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func ids(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

// concurrencyProbe 记录 handler 同时执行的最大数量
type concurrencyProbe struct {
	cur, peak atomic.Int32
	calls     atomic.Int32
}

func (c *concurrencyProbe) handler(d time.Duration) Handler {
	return func(ctx context.Context, id int64) GroupResult {
		c.calls.Add(1)
		n := c.cur.Add(1)
		for {
			p := c.peak.Load()
			if n <= p || c.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(d)
		c.cur.Add(-1)
		return GroupResult{Fetched: int(id)}
	}
}

func TestPool_ProcessesEveryGroupOnce(t *testing.T) {
	probe := &concurrencyProbe{}
	pool := NewPool(newPermits(3), probe.handler(time.Millisecond), Options{Interval: 5 * time.Millisecond}, quietLogger())

	results := pool.Run(context.Background(), ids(25))
	require.Len(t, results, 25)

	got := make([]int64, 0, len(results))
	for _, r := range results {
		assert.True(t, r.Started)
		assert.Empty(t, r.Error)
		assert.Equal(t, int(r.GroupID), r.Fetched)
		got = append(got, r.GroupID)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, ids(25), got)
	assert.Equal(t, int32(25), probe.calls.Load())
}

func TestPool_RespectsPermitCount(t *testing.T) {
	probe := &concurrencyProbe{}
	pool := NewPool(newPermits(3), probe.handler(10*time.Millisecond), Options{Interval: 5 * time.Millisecond}, quietLogger())

	pool.Run(context.Background(), ids(20))
	assert.LessOrEqual(t, probe.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, probe.peak.Load(), int32(2))
}

func TestPool_ScalesUpWhenPermitsGrow(t *testing.T) {
	permits := newPermits(1)
	probe := &concurrencyProbe{}
	pool := NewPool(permits, probe.handler(15*time.Millisecond), Options{Interval: 5 * time.Millisecond}, quietLogger())

	time.AfterFunc(20*time.Millisecond, func() { permits.n.Store(4) })
	results := pool.Run(context.Background(), ids(24))

	require.Len(t, results, 24)
	assert.Greater(t, probe.peak.Load(), int32(1))
	assert.LessOrEqual(t, probe.peak.Load(), int32(4))
}

func TestPool_ShrinksWhenPermitsDrop(t *testing.T) {
	permits := newPermits(4)
	probe := &concurrencyProbe{}
	pool := NewPool(permits, probe.handler(5*time.Millisecond), Options{Interval: time.Hour}, quietLogger())

	var late atomic.Int32
	handler := probe.handler(5 * time.Millisecond)
	var once sync.Once
	pool.handler = func(ctx context.Context, id int64) GroupResult {
		once.Do(func() { permits.n.Store(1) })
		if id > 12 {
			n := probe.cur.Load()
			if n > late.Load() {
				late.Store(n)
			}
		}
		return handler(ctx, id)
	}

	results := pool.Run(context.Background(), ids(30))
	require.Len(t, results, 30)
	// 收缩后同时在跑的 worker 不超过 1 个（加上读数的竞争余量）
	assert.LessOrEqual(t, late.Load(), int32(1))
}

func TestPool_CancelBetweenGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	handler := func(ctx context.Context, id int64) GroupResult {
		if calls.Add(1) == 2 {
			cancel()
		}
		return GroupResult{Fetched: 1}
	}
	pool := NewPool(newPermits(1), handler, Options{Interval: time.Millisecond}, quietLogger())

	results := pool.Run(ctx, ids(10))
	require.Len(t, results, 10)

	started, canceled := 0, 0
	for _, r := range results {
		if r.Started {
			started++
			assert.Empty(t, r.Error)
			continue
		}
		canceled++
		assert.Equal(t, CanceledError, r.Error)
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 8, canceled)
}

func TestPool_PublishesProgress(t *testing.T) {
	events := make(chan Progress, 16)
	probe := &concurrencyProbe{}
	pool := NewPool(newPermits(2), probe.handler(time.Millisecond), Options{Interval: time.Millisecond, Events: events}, quietLogger())

	pool.Run(context.Background(), ids(5))
	close(events)

	var last Progress
	count := 0
	for ev := range events {
		count++
		assert.Equal(t, 5, ev.Total)
		assert.Equal(t, 2, ev.Throttle.Concurrency)
		last = ev
	}
	assert.Equal(t, 5, count)
	assert.Equal(t, 5, last.Completed)
}

func TestPool_EventsNeverBlock(t *testing.T) {
	events := make(chan Progress) // 无缓冲且无人读
	probe := &concurrencyProbe{}
	pool := NewPool(newPermits(2), probe.handler(0), Options{Events: events}, quietLogger())

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background(), ids(10))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool blocked on progress channel")
	}
}

func TestPool_Empty(t *testing.T) {
	pool := NewPool(newPermits(2), (&concurrencyProbe{}).handler(0), Options{}, quietLogger())
	assert.Empty(t, pool.Run(context.Background(), nil))
}
