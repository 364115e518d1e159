package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestPool(t *testing.T) {
	t.Run("should run jobs and record results", func(t *testing.T) {
		// Arrange
		registry := NewRegistry()
		p := NewPool(2, 4, registry, zap.NewNop())
		p.Start()

		// Act
		require.NoError(t, p.Submit(Job{ID: "ok", Run: func(ctx context.Context) (any, error) {
			return "done", nil
		}}))
		require.NoError(t, p.Submit(Job{ID: "bad", Run: func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}}))
		require.NoError(t, p.Stop(context.Background()))

		// Assert
		ok, found := registry.Get("ok")
		require.True(t, found)
		assert.Equal(t, StateCompleted, ok.State)
		assert.Equal(t, "done", ok.Result)

		bad, found := registry.Get("bad")
		require.True(t, found)
		assert.Equal(t, StateFailed, bad.State)
		assert.Equal(t, "boom", bad.Error)
	})

	t.Run("should reject jobs when the queue is full", func(t *testing.T) {
		// Arrange
		registry := NewRegistry()
		p := NewPool(1, 1, registry, zap.NewNop())
		noop := func(ctx context.Context) (any, error) { return nil, nil }

		// Act
		first := p.Submit(Job{ID: "1", Run: noop})
		second := p.Submit(Job{ID: "2", Run: noop})

		// Assert
		assert.NoError(t, first)
		assert.ErrorIs(t, second, ErrQueueFull)
		_, found := registry.Get("2")
		assert.False(t, found)
		assert.Equal(t, 1, p.QueueDepth())
	})

	t.Run("should reject jobs after stop", func(t *testing.T) {
		p := NewPool(1, 1, NewRegistry(), zap.NewNop())
		p.Start()
		require.NoError(t, p.Stop(context.Background()))

		err := p.Submit(Job{ID: "late", Run: func(ctx context.Context) (any, error) { return nil, nil }})

		assert.ErrorIs(t, err, ErrPoolClosed)
		assert.NoError(t, p.Stop(context.Background()))
	})

	t.Run("should reject jobs without work", func(t *testing.T) {
		p := NewPool(1, 1, NewRegistry(), zap.NewNop())

		assert.Error(t, p.Submit(Job{ID: "empty"}))
	})

	t.Run("should recover panicking jobs and keep working", func(t *testing.T) {
		// Arrange
		core, logs := observer.New(zapcore.ErrorLevel)
		registry := NewRegistry()
		p := NewPool(1, 4, registry, zap.New(core))
		p.Start()
		var ran atomic.Bool

		// Act
		require.NoError(t, p.Submit(Job{ID: "panic", Run: func(ctx context.Context) (any, error) {
			panic("bad input")
		}}))
		require.NoError(t, p.Submit(Job{ID: "after", Run: func(ctx context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		}}))
		require.NoError(t, p.Stop(context.Background()))

		// Assert
		status, _ := registry.Get("panic")
		assert.Equal(t, StateFailed, status.State)
		assert.Contains(t, status.Error, "bad input")
		assert.True(t, ran.Load())
		assert.Equal(t, 1, logs.FilterMessage("job failed").Len())
	})

	t.Run("should drain queued jobs on stop", func(t *testing.T) {
		// Arrange
		registry := NewRegistry()
		p := NewPool(1, 8, registry, zap.NewNop())
		var count atomic.Int32
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, p.Submit(Job{ID: id, Run: func(ctx context.Context) (any, error) {
				count.Add(1)
				return nil, nil
			}}))
		}

		// Act
		p.Start()
		require.NoError(t, p.Stop(context.Background()))

		// Assert
		assert.Equal(t, int32(3), count.Load())
		assert.Equal(t, 3, registry.Counts()[StateCompleted])
	})

	t.Run("should cancel running jobs when stop times out", func(t *testing.T) {
		// Arrange
		p := NewPool(1, 1, NewRegistry(), zap.NewNop())
		p.Start()
		started := make(chan struct{})
		require.NoError(t, p.Submit(Job{ID: "slow", Run: func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}}))
		<-started

		// Act
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := p.Stop(ctx)

		// Assert
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("should report queue depth changes", func(t *testing.T) {
		p := NewPool(1, 2, NewRegistry(), zap.NewNop())
		var depths []int
		p.OnQueueDepth(func(d int) { depths = append(depths, d) })

		require.NoError(t, p.Submit(Job{ID: "1", Run: func(ctx context.Context) (any, error) { return nil, nil }}))
		require.NoError(t, p.Submit(Job{ID: "2", Run: func(ctx context.Context) (any, error) { return nil, nil }}))

		assert.Equal(t, []int{1, 2}, depths)
	})

	t.Run("should record a terminal state for every instant job", func(t *testing.T) {
		// Arrange
		const jobs = 5000
		registry := NewRegistry()
		p := NewPool(8, jobs, registry, zap.NewNop())
		p.Start()
		noop := func(ctx context.Context) (any, error) { return nil, nil }

		// Act
		for i := 0; i < jobs; i++ {
			require.NoError(t, p.Submit(Job{ID: fmt.Sprintf("job-%d", i), Run: noop}))
		}
		require.NoError(t, p.Stop(context.Background()))

		// Assert
		var stuck []string
		for i := 0; i < jobs; i++ {
			id := fmt.Sprintf("job-%d", i)
			if status, _ := registry.Get(id); status.State != StateCompleted {
				stuck = append(stuck, id+" -> "+string(status.State))
			}
		}
		assert.Empty(t, stuck)
		assert.Equal(t, jobs, registry.Counts()[StateCompleted])
	})
}

func TestRegistry(t *testing.T) {
	t.Run("should track job transitions", func(t *testing.T) {
		// Arrange
		r := NewRegistry()
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return clock }

		// Act
		r.Queue("j")
		clock = clock.Add(time.Second)
		r.Start("j")
		running, _ := r.Get("j")
		clock = clock.Add(time.Second)
		r.Complete("j", 42)

		// Assert
		assert.Equal(t, StateRunning, running.State)
		done, ok := r.Get("j")
		require.True(t, ok)
		assert.Equal(t, StateCompleted, done.State)
		assert.Equal(t, 42, done.Result)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), done.CreatedAt)
		assert.Equal(t, clock, done.UpdatedAt)
	})

	t.Run("should evict finished jobs older than the ttl", func(t *testing.T) {
		// Arrange
		r := NewRegistry()
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return clock }
		r.Queue("old-done")
		r.Complete("old-done", nil)
		r.Queue("old-failed")
		r.Fail("old-failed", errors.New("boom"))
		r.Queue("old-running")
		r.Start("old-running")
		clock = clock.Add(time.Hour)
		r.Queue("fresh")
		r.Complete("fresh", nil)

		// Act
		removed := r.Sweep(30 * time.Minute)

		// Assert
		assert.Equal(t, 2, removed)
		_, ok := r.Get("old-done")
		assert.False(t, ok)
		_, ok = r.Get("old-failed")
		assert.False(t, ok)
		_, ok = r.Get("old-running")
		assert.True(t, ok)
		_, ok = r.Get("fresh")
		assert.True(t, ok)
		assert.Equal(t, map[State]int{StateRunning: 1, StateCompleted: 1}, r.Counts())
	})

	t.Run("should return false for unknown jobs", func(t *testing.T) {
		_, ok := NewRegistry().Get("missing")
		assert.False(t, ok)
	})
}
