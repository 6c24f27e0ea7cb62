package workerpool_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/pluginhub/internal/workerpool"
)

type FakeLogger struct {
	mu sync.Mutex
	logr.Logger
	infoBuffer  bytes.Buffer
	errorBuffer bytes.Buffer
}

func (logger *FakeLogger) Init(info logr.RuntimeInfo) {}
func (logger *FakeLogger) Enabled(lvl int) bool       { return true }
func (logger *FakeLogger) Info(lvl int, msg string, keysAndValues ...interface{}) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.infoBuffer.WriteString(msg)
}
func (logger *FakeLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.errorBuffer.WriteString(msg)
}
func (logger *FakeLogger) WithValues(keysAndValues ...interface{}) logr.LogSink { return logger }
func (logger *FakeLogger) WithName(name string) logr.LogSink                    { return logger }
func (logger *FakeLogger) GetLog() string {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	return logger.infoBuffer.String()
}
func (logger *FakeLogger) GetErrors() string {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	return logger.errorBuffer.String()
}

var _ logr.LogSink = (*FakeLogger)(nil)

func TestWorkerPool_StartAndStop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		fakeLogger := &FakeLogger{}

		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{
			WorkerCount: 3,
			QueueSize:   10,
			Logger:      logr.New(fakeLogger),
		})

		go func() { _ = wp.Start(ctx) }()

		// Wait for workers to start
		synctest.Wait()
		assert.Contains(t, fakeLogger.GetLog(), "worker started")

		cancel()
		synctest.Wait()

		assert.Contains(t, fakeLogger.GetLog(), "worker stopped")
		assert.Contains(t, fakeLogger.GetLog(), "worker pool shutdown complete")
	})
}

func TestWorkerPool_DoReturnsTaskResult(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		fakeLogger := &FakeLogger{}
		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{WorkerCount: 2, QueueSize: 4, Logger: logr.New(fakeLogger)})
		go func() { _ = wp.Start(ctx) }()

		ran := false
		require.NoError(t, wp.Do(ctx, "write", func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			ran = true
			return nil
		}))
		assert.True(t, ran)

		boom := errors.New("disk full")
		err := wp.Do(ctx, "write", func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, fakeLogger.GetErrors(), "failed to process work item")
	})
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{WorkerCount: 2, QueueSize: 16})
		go func() { _ = wp.Start(ctx) }()

		var running, peak atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Go(func() {
				_ = wp.Do(ctx, "copy", func(ctx context.Context) error {
					n := running.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(100 * time.Millisecond)
					running.Add(-1)
					return nil
				})
			})
		}
		start := time.Now()
		wg.Wait()

		assert.EqualValues(t, 2, peak.Load())
		assert.Equal(t, 400*time.Millisecond, time.Since(start))
	})
}

func TestWorkerPool_CallerCancelled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		poolCtx, stop := context.WithCancel(t.Context())
		defer stop()
		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{WorkerCount: 1, QueueSize: 4})
		go func() { _ = wp.Start(poolCtx) }()

		ctx, cancel := context.WithCancel(poolCtx)
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- wp.Do(ctx, "slow", func(context.Context) error {
				<-release
				return nil
			})
		}()

		synctest.Wait()
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		close(release)

		// a task submitted with an already cancelled context never runs
		ran := false
		err := wp.Do(ctx, "skipped", func(context.Context) error {
			ran = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran)
	})
}

func TestWorkerPool_DoAfterStop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{})
		go func() { _ = wp.Start(ctx) }()
		synctest.Wait()

		cancel()
		synctest.Wait()

		err := wp.Do(t.Context(), "late", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, workerpool.ErrPoolStopped)
	})
}

func TestWorkerPool_QueuedWorkFailsOnShutdown(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		wp := workerpool.NewWorkerPool(workerpool.PoolOptions{WorkerCount: 1, QueueSize: 4})
		go func() { _ = wp.Start(ctx) }()

		release := make(chan struct{})
		first := make(chan error, 1)
		second := make(chan error, 1)
		go func() {
			first <- wp.Do(t.Context(), "busy", func(context.Context) error {
				<-release
				return nil
			})
		}()
		synctest.Wait()
		go func() {
			second <- wp.Do(t.Context(), "queued", func(context.Context) error {
				t.Error("queued task must not run after shutdown")
				return nil
			})
		}()
		synctest.Wait()

		cancel()
		synctest.Wait()
		close(release)

		require.NoError(t, <-first)
		assert.ErrorIs(t, <-second, workerpool.ErrPoolStopped)
	})
}

func TestInline(t *testing.T) {
	var exec workerpool.Executor = workerpool.Inline{}
	calls := 0
	require.NoError(t, exec.Do(t.Context(), "inline", func(context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}
