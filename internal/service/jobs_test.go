package service

import (
	"context"
	"testing"

	"CardSync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTracker_SubscribeReplaysLastProgress(t *testing.T) {
	tr := NewJobTracker()
	_, cancel := context.WithCancel(context.Background())
	tr.Start("job-1", cancel)

	tr.Publish("job-1", worker.Progress{Completed: 1, Total: 3, GroupID: 10})
	ch, unsubscribe, ok := tr.Subscribe("job-1")
	require.True(t, ok)
	defer unsubscribe()

	p := <-ch
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, int64(10), p.GroupID)

	tr.Publish("job-1", worker.Progress{Completed: 2, Total: 3, GroupID: 11})
	p = <-ch
	assert.Equal(t, 2, p.Completed)
}

func TestJobTracker_FinishClosesSubscribers(t *testing.T) {
	tr := NewJobTracker()
	ctx, cancel := context.WithCancel(context.Background())
	tr.Start("job-1", cancel)

	ch, unsubscribe, ok := tr.Subscribe("job-1")
	require.True(t, ok)
	assert.True(t, tr.Running("job-1"))

	tr.Finish("job-1")
	_, open := <-ch
	assert.False(t, open)
	assert.False(t, tr.Running("job-1"))
	assert.Error(t, ctx.Err())

	// 结束后退订不应 panic
	unsubscribe()

	_, _, ok = tr.Subscribe("job-1")
	assert.False(t, ok)
}

func TestJobTracker_Cancel(t *testing.T) {
	tr := NewJobTracker()
	assert.False(t, tr.Cancel("missing"))

	ctx, cancel := context.WithCancel(context.Background())
	tr.Start("job-1", cancel)
	assert.True(t, tr.Cancel("job-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	// 取消后仍在运行，直到 Finish
	assert.True(t, tr.Running("job-1"))
}

func TestJobTracker_SlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewJobTracker()
	_, cancel := context.WithCancel(context.Background())
	tr.Start("job-1", cancel)
	ch, unsubscribe, _ := tr.Subscribe("job-1")
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		tr.Publish("job-1", worker.Progress{Completed: i})
	}
	assert.Equal(t, 16, len(ch))
}
