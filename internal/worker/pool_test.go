package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/logging"
)

func quietLogger() *logging.Logger { return logging.NewLoggerWithWriter("error", io.Discard) }

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, 8, quietLogger())

	var n atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit("count", func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(8), n.Load())
}

func TestPoolRejectsWhenFullOrClosed(t *testing.T) {
	p := NewPool(1, 1, quietLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit("blocker", func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit("queued", func(context.Context) {}))
	assert.ErrorIs(t, p.Submit("overflow", func(context.Context) {}), ErrQueueFull)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit("late", func(context.Context) {}), ErrPoolClosed)
}

func TestPoolStopCancelsTasksAfterDeadline(t *testing.T) {
	p := NewPool(1, 1, quietLogger())

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, p.Submit("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewPool(1, 2, quietLogger())

	var ran atomic.Bool
	require.NoError(t, p.Submit("panics", func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit("after", func(context.Context) { ran.Store(true) }))
	require.NoError(t, p.Stop(context.Background()))
	assert.True(t, ran.Load())
}
