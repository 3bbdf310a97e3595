// Package discovery watches the exchange program's logs and enqueues
// detected pool creations for resolution.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/observability"
	"solana-pool-sentinel/internal/queue"
	"solana-pool-sentinel/internal/solana"
)

// Defaults for a Subscriber.
const (
	DefaultQueueName      = "solQueue"
	DefaultBufferSize     = 1000
	DefaultEnqueueDelay   = time.Second
	DefaultEnqueueTimeout = 5 * time.Second
)

var (
	// ErrStreamClosed is reported on Done when the log stream ends while running.
	ErrStreamClosed = errors.New("log stream closed")

	// ErrAlreadyRunning is returned by Start on a running subscriber.
	ErrAlreadyRunning = errors.New("subscriber already running")
)

// DialFunc opens a websocket client.
type DialFunc func(ctx context.Context) (solana.WSClient, error)

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Dial      DialFunc
	ProgramID string
	Detector  Detector

	Enqueuer   queue.Enqueuer
	QueueName  string
	JobOptions queue.Options // Delay defaults to 1s, MaxAttempts to 1

	BufferSize     int
	EnqueueTimeout time.Duration

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Subscriber holds one logsSubscribe stream and feeds detections to the queue.
// Start may be called again after the stream failed or Stop returned.
type Subscriber struct {
	opts    SubscriberOptions
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	client   solana.WSClient
	done     chan error
	stopping bool
	running  bool
	wg       sync.WaitGroup
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(opts SubscriberOptions) *Subscriber {
	if opts.ProgramID == "" {
		opts.ProgramID = solana.RaydiumAMMProgramID
	}
	if opts.Detector == nil {
		opts.Detector = NewInstructionDetector("")
	}
	if opts.QueueName == "" {
		opts.QueueName = DefaultQueueName
	}
	if opts.JobOptions.Delay == 0 {
		opts.JobOptions.Delay = DefaultEnqueueDelay
	}
	opts.JobOptions = opts.JobOptions.Normalize()
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscriber{
		opts:    opts,
		metrics: opts.Metrics,
		logger:  logger.Named("discovery"),
	}
}

// Start dials, opens the logs subscription and starts the event loop.
// Any error establishing the subscription is returned.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopping = false
	s.mu.Unlock()

	client, stream, err := s.open(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	done := make(chan error, 1)
	detections := make(chan string, s.opts.BufferSize)

	s.mu.Lock()
	s.client = client
	s.done = done
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(stream, detections, done)
	go s.enqueueLoop(detections)

	s.logger.Info("listening for new pools",
		zap.String("program", s.opts.ProgramID),
		zap.String("queue", s.opts.QueueName))
	return nil
}

func (s *Subscriber) open(ctx context.Context) (solana.WSClient, <-chan solana.LogNotification, error) {
	client, err := s.opts.Dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	stream, err := client.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{s.opts.ProgramID}})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("logs subscribe: %w", err)
	}
	return client, stream, nil
}

// Done returns a channel that receives ErrStreamClosed if the current stream
// ends without Stop. It is nil before the first successful Start.
func (s *Subscriber) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop closes the websocket client and waits for the loops to exit.
// Detections already buffered are still enqueued.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	client := s.client
	s.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.client = nil
	s.mu.Unlock()
	return err
}

func (s *Subscriber) readLoop(stream <-chan solana.LogNotification, detections chan<- string, done chan<- error) {
	defer s.wg.Done()
	defer close(detections)

	for n := range stream {
		s.metrics.RecordLogReceived()
		if !s.opts.Detector.Detect(n) {
			continue
		}

		s.metrics.RecordPoolDetected()
		s.logger.Info("new pool detected",
			zap.String("signature", n.Signature),
			zap.Int64("slot", n.Slot),
			zap.String("explorer", solana.ExplorerTxURL(n.Signature)))

		select {
		case detections <- n.Signature:
		default:
			s.metrics.RecordDetectionDropped()
			s.logger.Error("enqueue buffer full, detection dropped", zap.String("signature", n.Signature))
		}
	}

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	if !stopping {
		s.logger.Warn("log stream closed")
		done <- ErrStreamClosed
	}
}

func (s *Subscriber) enqueueLoop(detections <-chan string) {
	defer s.wg.Done()

	for sig := range detections {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EnqueueTimeout)
		id, err := s.opts.Enqueuer.Enqueue(ctx, s.opts.QueueName, sig, queue.Payload{TxID: sig}, s.opts.JobOptions)
		cancel()

		s.metrics.RecordEnqueue(s.opts.QueueName, err)
		if err != nil {
			s.logger.Error("enqueue failed", zap.String("signature", sig), zap.Error(err))
			continue
		}
		s.logger.Debug("job enqueued", zap.String("signature", sig), zap.String("job_id", id))
	}
}
