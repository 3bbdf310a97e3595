// Package worker runs queue consumers and reports job outcomes on a channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/queue"
)

// Defaults for a registered queue.
const (
	DefaultConcurrency  = 5
	DefaultLease        = 30 * time.Second
	DefaultResultBuffer = 1024
	DefaultErrorBackoff = time.Second
)

var (
	// ErrPoolClosed is returned by Register after Close.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrJobPanicked wraps a panic recovered from a ProcessFunc.
	ErrJobPanicked = errors.New("job panicked")
)

// Status is the outcome of one job execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusError marks a queue infrastructure fault rather than a job failure.
	StatusError Status = "error"
)

// JobResult describes one processed (or unprocessable) job.
type JobResult struct {
	Queue    string
	JobID    string
	JobName  string
	TxID     string
	Attempts int
	Status   Status
	Err      error
	Duration time.Duration
}

// ProcessFunc handles one job. A nil return completes the job.
type ProcessFunc func(ctx context.Context, job *queue.Job) error

// PoolOptions configures a Pool.
type PoolOptions struct {
	Registry     *queue.Registry
	ResultBuffer int
	ErrorBackoff time.Duration
	OnDrop       func(JobResult) // called when a result is discarded
	Logger       *zap.Logger
}

// Pool runs a fixed number of consumers per registered queue.
type Pool struct {
	registry     *queue.Registry
	errorBackoff time.Duration
	onDrop       func(JobResult)
	logger       *zap.Logger

	ctx    context.Context // cancelled by Close; stops claiming only
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	queues  map[string]struct{}
	wg      sync.WaitGroup
	results chan JobResult
	dropped atomic.Uint64
}

// NewPool creates a pool with no consumers.
func NewPool(opts PoolOptions) *Pool {
	if opts.ResultBuffer <= 0 {
		opts.ResultBuffer = DefaultResultBuffer
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		registry:     opts.Registry,
		errorBackoff: opts.ErrorBackoff,
		onDrop:       opts.OnDrop,
		logger:       logger.Named("worker"),
		ctx:          ctx,
		cancel:       cancel,
		queues:       make(map[string]struct{}),
		results:      make(chan JobResult, opts.ResultBuffer),
	}
}

// Register starts concurrency consumers for queueName. Each queue may be
// registered once.
func (p *Pool) Register(queueName string, fn ProcessFunc, concurrency int, lease time.Duration) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil process func", queueName)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if lease <= 0 {
		lease = DefaultLease
	}

	backend, err := p.registry.Get(queueName)
	if err != nil {
		return fmt.Errorf("register %s: %w", queueName, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.queues[queueName]; ok {
		return fmt.Errorf("register %s: already registered", queueName)
	}
	p.queues[queueName] = struct{}{}

	for i := 0; i < concurrency; i++ {
		c := &consumer{
			pool:    p,
			queue:   queueName,
			backend: backend,
			process: fn,
			lease:   lease,
			logger:  p.logger.With(zap.String("queue", queueName), zap.Int("consumer", i)),
		}
		p.wg.Add(1)
		go c.run()
	}

	p.logger.Info("queue registered",
		zap.String("queue", queueName),
		zap.Int("concurrency", concurrency),
		zap.Duration("lease", lease))
	return nil
}

// Results returns the outcome channel. It is closed by Close.
func (p *Pool) Results() <-chan JobResult {
	return p.results
}

// Dropped returns how many results were discarded because Results was full.
func (p *Pool) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops claiming new jobs, waits for in-flight jobs to finish and
// closes Results.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	close(p.results)
	p.logger.Info("worker pool stopped", zap.Uint64("dropped_results", p.dropped.Load()))
	return nil
}

func (p *Pool) emit(r JobResult) {
	select {
	case p.results <- r:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop(r)
		}
	}
}

type consumer struct {
	pool    *Pool
	queue   string
	backend queue.Backend
	process ProcessFunc
	lease   time.Duration
	logger  *zap.Logger
}

func (c *consumer) run() {
	defer c.pool.wg.Done()

	for {
		job, err := c.backend.Claim(c.pool.ctx, c.lease)
		if err != nil {
			if c.pool.ctx.Err() != nil {
				return
			}
			c.logger.Error("claim failed", zap.Error(err))
			c.pool.emit(JobResult{Queue: c.queue, Status: StatusError, Err: err})
			if !c.sleep(c.pool.errorBackoff) {
				return
			}
			continue
		}
		c.handle(job)
	}
}

// handle runs one job to completion. Its context is independent of Close so
// in-flight jobs finish during shutdown.
func (c *consumer) handle(job *queue.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopHeartbeat := c.heartbeat(ctx, job)
	start := time.Now()
	procErr := c.safeProcess(ctx, job)
	elapsed := time.Since(start)
	stopHeartbeat()

	result := JobResult{
		Queue:    c.queue,
		JobID:    job.ID,
		JobName:  job.Name,
		TxID:     job.Payload.TxID,
		Attempts: job.AttemptsMade,
		Duration: elapsed,
	}

	if procErr == nil {
		if err := c.backend.Complete(ctx, job); err != nil {
			c.logger.Error("complete failed", zap.String("job_id", job.ID), zap.Error(err))
			result.Status, result.Err = StatusError, err
		} else {
			result.Status = StatusCompleted
		}
		c.pool.emit(result)
		return
	}

	result.Status, result.Err = StatusFailed, procErr
	if err := c.backend.Fail(ctx, job, procErr); err != nil {
		c.logger.Error("fail failed", zap.String("job_id", job.ID), zap.Error(err))
		result.Status, result.Err = StatusError, errors.Join(procErr, err)
	}
	c.pool.emit(result)
}

// safeProcess turns a panic in process into a job error.
func (c *consumer) safeProcess(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return c.process(ctx, job)
}

// heartbeat extends the lease every half lease until the returned func is called.
func (c *consumer) heartbeat(ctx context.Context, job *queue.Job) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		interval := c.lease / 2
		if interval <= 0 {
			interval = c.lease
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.backend.Extend(ctx, job, c.lease); err != nil {
					c.logger.Warn("lease extend failed", zap.String("job_id", job.ID), zap.Error(err))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (c *consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.pool.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
