// Package queue defines durable job handoff between the log subscriber and workers.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueNotFound is returned when no backend is registered under a name.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrNoJob is returned by TryClaim when no job is visible.
	ErrNoJob = errors.New("no job available")

	// ErrLeaseLost is returned when a job's lease expired or was taken over.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("queue closed")
)

// Default job options.
const (
	DefaultMaxAttempts = 1
	DefaultBackoff     = time.Second
	DefaultMaxStalls   = 1
)

// Payload is the data carried by a job.
type Payload struct {
	TxID string `json:"txId"`
}

// Options control when a job becomes visible and how failures are retried.
type Options struct {
	Delay       time.Duration // visibility delay from enqueue
	MaxAttempts int           // 0 means DefaultMaxAttempts
	Backoff     time.Duration // base retry delay; 0 means DefaultBackoff
}

// Normalize fills zero values with defaults.
func (o Options) Normalize() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Job is a unit of work owned by at most one consumer at a time.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Payload      Payload
	AttemptsMade int // incremented on every claim
	MaxAttempts  int
	Backoff      time.Duration
	Stalls       int // times the lease expired before Complete or Fail
	EnqueuedAt   time.Time
	LeaseToken   string
	LeaseExpiry  time.Time
	LastError    string
}

// RetryDelay is the backoff before attempt n+1 after n failed attempts.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base << (attempts - 1)
}

// Counts reports queue depth per state.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

// Backend is a single named queue.
//
// Delivery is at-least-once: a job whose lease expires becomes visible again
// and is handed to the next claimer. Only the holder of the current lease
// token may Complete, Fail or Extend a job.
type Backend interface {
	// Enqueue adds a job. A name seen within the dedup window returns the
	// id of the existing job and adds nothing.
	Enqueue(ctx context.Context, name string, payload Payload, opts Options) (string, error)

	// TryClaim leases the earliest visible job. Returns ErrNoJob if none.
	TryClaim(ctx context.Context, lease time.Duration) (*Job, error)

	// Claim blocks until a job is leased or ctx is done.
	Claim(ctx context.Context, lease time.Duration) (*Job, error)

	// Complete removes a finished job.
	Complete(ctx context.Context, job *Job) error

	// Fail records cause and either reschedules the job with backoff or,
	// once attempts are exhausted, moves it to the failed set.
	Fail(ctx context.Context, job *Job, cause error) error

	// Extend pushes the lease expiry of a held job.
	Extend(ctx context.Context, job *Job, lease time.Duration) error

	// Failed lists up to limit jobs from the failed set, newest first.
	Failed(ctx context.Context, limit int) ([]*Job, error)

	// Counts reports queue depth.
	Counts(ctx context.Context) (Counts, error)

	// Close releases backend resources.
	Close() error
}

// Enqueuer adds jobs to a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload Payload, opts Options) (string, error)
}

// PollClaim repeatedly calls try until it leases a job, fails with an error
// other than ErrNoJob, or ctx is done.
func PollClaim(ctx context.Context, interval time.Duration, try func() (*Job, error)) (*Job, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		job, err := try()
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrNoJob) {
			return nil, err
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
