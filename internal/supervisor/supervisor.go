// Package supervisor keeps the log subscription alive with bounded
// exponential-backoff reconnects.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/observability"
)

// State is the connection state of the supervised subscription.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrRetriesExhausted is returned by Run once the retry budget is spent.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// Runner is the supervised subscription.
type Runner interface {
	// Start establishes the subscription or returns why it could not.
	Start(ctx context.Context) error
	// Stop tears down the current subscription.
	Stop() error
	// Done delivers an error when an established subscription fails.
	Done() <-chan error
}

// Config holds retry policy.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns 5 retries with delays 2s, 4s, 8s, 16s, 30s.
func DefaultConfig() Config {
	return Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns min(base * 2^retry, max).
func (c Config) Backoff(retry int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= c.MaxDelay || d <= 0 {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Options configures a Supervisor.
type Options struct {
	Runner        Runner
	Config        Config
	Clock         Clock
	OnFatal       func(err error)
	OnStateChange func(State)
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Supervisor drives a Runner through connect, failure and retry.
// All state is owned by the Run goroutine.
type Supervisor struct {
	runner  Runner
	cfg     Config
	clock   Clock
	onFatal func(error)
	onState func(State)
	metrics *observability.Metrics
	logger  *zap.Logger

	mu         sync.RWMutex
	state      State
	retryCount int
}

// New creates a Supervisor. Zero Config fields take defaults.
func New(opts Options) *Supervisor {
	def := DefaultConfig()
	cfg := opts.Config
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		runner:  opts.Runner,
		cfg:     cfg,
		clock:   opts.Clock,
		onFatal: opts.OnFatal,
		onState: opts.OnStateChange,
		metrics: opts.Metrics,
		logger:  logger.Named("supervisor"),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RetryCount returns the number of consecutive failed attempts.
func (s *Supervisor) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.metrics.SetSubscriptionState(int(st))
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Supervisor) setRetryCount(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
}

// Run connects and keeps reconnecting until ctx is done or retries run out.
// On exhaustion OnFatal is invoked and ErrRetriesExhausted returned.
// Cancelling ctx stops the runner and returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	retry := make(chan struct{}, 1)
	var pending Timer

	cancelPending := func() {
		if pending != nil {
			pending.Stop()
			pending = nil
		}
	}
	defer cancelPending()

	for {
		s.setState(StateConnecting)
		err := s.runner.Start(ctx)
		if err == nil {
			s.setRetryCount(0)
			cancelPending()
			s.setState(StateConnected)
			s.logger.Info("subscription established")

			select {
			case <-ctx.Done():
				_ = s.runner.Stop()
				s.setState(StateDisconnected)
				return ctx.Err()
			case err = <-s.runner.Done():
				if err == nil {
					err = errors.New("subscription ended")
				}
				_ = s.runner.Stop()
				s.metrics.RecordSubscriptionFailure("stream")
			}
		} else {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return ctx.Err()
			}
			s.metrics.RecordSubscriptionFailure("start")
		}

		s.setState(StateDisconnected)

		retries := s.RetryCount()
		if retries >= s.cfg.MaxRetries {
			s.setState(StateFatal)
			fatal := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retries, err)
			s.logger.Error("giving up on subscription", zap.Int("retries", retries), zap.Error(err))
			if s.onFatal != nil {
				s.onFatal(fatal)
			}
			return fatal
		}

		retries++
		s.setRetryCount(retries)
		delay := s.cfg.Backoff(retries)
		s.metrics.RecordReconnect()
		s.logger.Warn("subscription failed, retrying",
			zap.Error(err),
			zap.Int("retry", retries),
			zap.Int("max_retries", s.cfg.MaxRetries),
			zap.Duration("delay", delay))

		cancelPending()
		pending = s.clock.AfterFunc(delay, func() {
			select {
			case retry <- struct{}{}:
			default:
			}
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry:
			pending = nil
		}
	}
}
