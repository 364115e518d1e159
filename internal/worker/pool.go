package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no free slot
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolClosed is returned by Submit after Stop
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Job is a unit of work run by the pool. The returned value is recorded as the job result.
type Job struct {
	ID  string
	Run func(ctx context.Context) (any, error)
}

// Pool runs jobs from a bounded queue on a fixed number of goroutines
type Pool struct {
	mu       sync.RWMutex
	queue    chan Job
	workers  *pool.Pool
	count    int
	registry *Registry
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	started  bool
	onDepth  func(int)
}

// NewPool creates a pool with count workers and room for queueSize waiting jobs
func NewPool(count, queueSize int, registry *Registry, logger *zap.Logger) *Pool {
	if count <= 0 {
		count = 1
	}
	if queueSize <= 0 {
		queueSize = count
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:    make(chan Job, queueSize),
		workers:  pool.New().WithMaxGoroutines(count),
		count:    count,
		registry: registry,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnQueueDepth registers a callback invoked with the queue length after every change
func (p *Pool) OnQueueDepth(fn func(int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDepth = fn
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.count; i++ {
		p.workers.Go(p.loop)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.count),
		zap.Int("queue_size", cap(p.queue)))
}

// Submit enqueues a job without blocking
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no work", job.ID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	// Registered before the send so a worker never sees an unknown id.
	p.registry.Queue(job.ID)
	select {
	case p.queue <- job:
		p.reportDepth()
		p.logger.Debug("job queued", zap.String("job_id", job.ID), zap.Int("queue_depth", len(p.queue)))
		return nil
	default:
		p.registry.Remove(job.ID)
		p.logger.Warn("job rejected, queue full", zap.String("job_id", job.ID))
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Stop rejects new jobs, lets queued jobs finish and waits for the workers.
// Running jobs see their context cancelled when ctx expires first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("failed to drain worker pool: %w", ctx.Err())
	}
}

func (p *Pool) loop() {
	for job := range p.queue {
		p.reportDepth()
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	p.registry.Start(job.ID)
	p.logger.Info("job started", zap.String("job_id", job.ID))

	result, err := p.execute(job)
	if err != nil {
		p.registry.Fail(job.ID, err)
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	p.registry.Complete(job.ID, result)
	p.logger.Info("job completed", zap.String("job_id", job.ID))
}

func (p *Pool) execute(job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(p.ctx)
}

func (p *Pool) reportDepth() {
	if p.onDepth != nil {
		p.onDepth(len(p.queue))
	}
}
