// Package events fans job outcomes and stored tokens out to sinks.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/worker"
)

// Kind identifies an event type.
type Kind string

const (
	KindJobResult   Kind = "job_result"
	KindTokenStored Kind = "token_stored"
)

// Event is a single notification delivered to every sink.
type Event struct {
	Kind   Kind
	Time   time.Time
	Result *worker.JobResult   // set for KindJobResult
	Token  *domain.TokenRecord // set for KindTokenStored
}

// Sink consumes events. Handle must not block for long; a slow sink delays
// the others.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// DefaultBufferSize bounds pending token notifications.
const DefaultBufferSize = 1024

// ErrDispatcherClosed is returned by Run after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Sinks       []Sink
	BufferSize  int
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher reads worker results and token notifications and hands each
// event to every sink in order.
type Dispatcher struct {
	sinks       []Sink
	sinkTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	tokens  chan *domain.TokenRecord
	dropped uint64
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sinks:       opts.Sinks,
		sinkTimeout: opts.SinkTimeout,
		logger:      logger.Named("events"),
		tokens:      make(chan *domain.TokenRecord, opts.BufferSize),
	}
}

// TokenStored queues a stored-token event. It never blocks; events that do
// not fit the buffer are dropped.
func (d *Dispatcher) TokenStored(_ context.Context, rec *domain.TokenRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	select {
	case d.tokens <- rec:
	default:
		d.dropped++
		d.logger.Warn("token event dropped", zap.String("key", rec.Key))
	}
}

// Run starts dispatching. results may be nil. It returns immediately.
func (d *Dispatcher) Run(results <-chan worker.JobResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if d.started {
		return errors.New("dispatcher already running")
	}
	d.started = true

	d.wg.Add(1)
	go d.loop(results)
	return nil
}

// Close stops accepting token events and waits until the results channel
// is closed and every queued event was delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tokens)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}

	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Dropped returns the number of token events dropped on overflow.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) loop(results <-chan worker.JobResult) {
	defer d.wg.Done()

	tokens := d.tokens
	for results != nil || tokens != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			d.deliver(Event{Kind: KindJobResult, Time: time.Now(), Result: &r})
		case rec, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			d.deliver(Event{Kind: KindTokenStored, Time: time.Now(), Token: rec})
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Handle(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Error("sink failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}
