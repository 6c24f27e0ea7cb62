package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ErrPoolStopped is returned for work submitted to, or still queued in, a stopped pool.
var ErrPoolStopped = errors.New("worker pool is not running")

// Task is a unit of blocking work. It receives the context of the submitter.
type Task func(ctx context.Context) error

// Executor runs tasks on behalf of a caller and waits for their result.
type Executor interface {
	Do(ctx context.Context, name string, fn Task) error
}

// Inline is an Executor that runs every task on the calling goroutine.
type Inline struct{}

// Do runs fn directly.
func (Inline) Do(ctx context.Context, _ string, fn Task) error {
	return fn(ctx)
}

// WorkItem represents a single work item to be processed by the worker pool.
type WorkItem struct {
	// Name identifies the kind of work for logs and metrics.
	Name string
	// Fn is the work to perform.
	Fn Task
	// Context for the work item - workers respect this context for cancellation.
	Context context.Context

	done chan error
}

// PoolOptions configures the worker pool.
type PoolOptions struct {
	// WorkerCount is the number of concurrent workers.
	WorkerCount int
	// QueueSize is the size of the work queue buffer.
	QueueSize int
	// Logger for the worker pool.
	Logger logr.Logger
}

// WorkerPool is a fixed set of workers fed by a bounded queue. It keeps blocking disk
// I/O off the goroutines that serve requests.
type WorkerPool struct {
	PoolOptions
	workQueue   chan *WorkItem
	stopping    chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	workersDone sync.WaitGroup
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(opts PoolOptions) *WorkerPool {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	return &WorkerPool{
		PoolOptions: opts,
		workQueue:   make(chan *WorkItem, opts.QueueSize),
		stopping:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start begins the worker pool.
// This method blocks until the context is cancelled to implement graceful shutdown.
// Work that was queued but not picked up by then fails with ErrPoolStopped.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.Logger.Info("starting worker pool", "workers", wp.WorkerCount, "queueSize", wp.QueueSize)

	for i := range wp.WorkerCount {
		wp.workersDone.Add(1)
		go wp.worker(i)
	}

	// wait for context cancellation
	<-ctx.Done()
	wp.Logger.Info("worker pool shutting down")

	wp.stopOnce.Do(func() { close(wp.stopping) })

	// workers finish their current item before they exit
	wp.workersDone.Wait()
	wp.drain()
	close(wp.stopped)

	wp.Logger.Info("worker pool shutdown complete")
	return nil
}

// Do queues fn and waits for it to finish. It returns early if ctx is done, in which
// case fn still runs to completion with the cancelled context if it was already picked up.
func (wp *WorkerPool) Do(ctx context.Context, name string, fn Task) error {
	item := &WorkItem{
		Name:    name,
		Fn:      fn,
		Context: ctx,
		done:    make(chan error, 1),
	}

	if wp.isStopping() {
		return ErrPoolStopped
	}

	select {
	case <-wp.stopping:
		return ErrPoolStopped
	case <-ctx.Done():
		return context.Cause(ctx)
	case wp.workQueue <- item:
		QueueSizeGauge.Set(float64(len(wp.workQueue)))
		wp.Logger.V(1).Info("enqueued work item", "task", name)
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-wp.stopped:
		// the item may have been handled right before shutdown completed
		select {
		case err := <-item.done:
			return err
		default:
			return ErrPoolStopped
		}
	}
}

// worker is the main worker loop that processes work items.
func (wp *WorkerPool) worker(id int) {
	defer wp.workersDone.Done()
	logger := wp.Logger.WithValues("worker", id)
	logger.V(1).Info("worker started")
	defer logger.V(1).Info("worker stopped")

	for {
		if wp.isStopping() {
			return
		}
		select {
		case <-wp.stopping:
			return
		case item := <-wp.workQueue:
			QueueSizeGauge.Set(float64(len(wp.workQueue)))
			wp.handleWorkItem(logger, item)
		}
	}
}

func (wp *WorkerPool) handleWorkItem(logger logr.Logger, item *WorkItem) {
	if err := context.Cause(item.Context); err != nil {
		logger.V(1).Info("skipping cancelled work item", "task", item.Name)
		item.done <- err
		return
	}

	InProgressGauge.Inc()
	defer InProgressGauge.Dec()

	start := time.Now()
	err := item.Fn(item.Context)
	duration := time.Since(start).Seconds()

	TaskDurationHistogram.WithLabelValues(item.Name).Observe(duration)

	if err != nil {
		logger.Error(err, "failed to process work item", "task", item.Name, "duration", duration)
	} else {
		logger.V(1).Info("processed work item", "task", item.Name, "duration", duration)
	}

	item.done <- err
}

func (wp *WorkerPool) isStopping() bool {
	select {
	case <-wp.stopping:
		return true
	default:
		return false
	}
}

// drain fails every item that is still queued once all workers have exited.
func (wp *WorkerPool) drain() {
	for {
		select {
		case item := <-wp.workQueue:
			item.done <- ErrPoolStopped
		default:
			QueueSizeGauge.Set(0)
			return
		}
	}
}
