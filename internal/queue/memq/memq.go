// Package memq is an in-process queue.Backend for tests and single-process runs.
package memq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"solana-pool-sentinel/internal/queue"
)

// Options configures a Queue.
type Options struct {
	PollInterval time.Duration    // Claim polling interval
	DedupTTL     time.Duration    // how long a job name suppresses duplicates
	MaxStalls    int              // lease expiries tolerated before a job fails
	Now          func() time.Time // clock, defaults to time.Now
}

type state int

const (
	stateWaiting state = iota
	stateActive
	stateFailed
)

type entry struct {
	job       queue.Job
	state     state
	visibleAt time.Time
	seq       uint64
}

type dedupMark struct {
	id      string
	expires time.Time
}

// Queue is an in-memory implementation of queue.Backend.
type Queue struct {
	name string
	opts Options

	mu     sync.Mutex
	seq    uint64
	jobs   map[string]*entry
	failed []string // newest last
	dedup  map[string]dedupMark
	closed bool
}

// New creates an in-memory queue.
func New(name string, opts Options) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 10 * time.Minute
	}
	if opts.MaxStalls <= 0 {
		opts.MaxStalls = queue.DefaultMaxStalls
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		name:  name,
		opts:  opts,
		jobs:  make(map[string]*entry),
		dedup: make(map[string]dedupMark),
	}
}

// Enqueue adds a job unless name was enqueued within the dedup window.
func (q *Queue) Enqueue(_ context.Context, name string, payload queue.Payload, opts queue.Options) (string, error) {
	opts = opts.Normalize()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", queue.ErrClosed
	}
	now := q.opts.Now()
	q.pruneDedup(now)
	if name != "" {
		if mark, ok := q.dedup[name]; ok && now.Before(mark.expires) {
			return mark.id, nil
		}
	}

	id := uuid.NewString()
	if name != "" {
		q.dedup[name] = dedupMark{id: id, expires: now.Add(q.opts.DedupTTL)}
	}

	q.seq++
	q.jobs[id] = &entry{
		job: queue.Job{
			ID:          id,
			Queue:       q.name,
			Name:        name,
			Payload:     payload,
			MaxAttempts: opts.MaxAttempts,
			Backoff:     opts.Backoff,
			EnqueuedAt:  now,
		},
		state:     stateWaiting,
		visibleAt: now.Add(opts.Delay),
		seq:       q.seq,
	}
	return id, nil
}

// pruneDedup drops expired dedup marks. Must hold mu.
func (q *Queue) pruneDedup(now time.Time) {
	for name, mark := range q.dedup {
		if !now.Before(mark.expires) {
			delete(q.dedup, name)
		}
	}
}

// TryClaim leases the earliest visible job.
func (q *Queue) TryClaim(_ context.Context, lease time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, queue.ErrClosed
	}
	now := q.opts.Now()
	q.requeueExpired(now)

	var next *entry
	for _, e := range q.jobs {
		if e.state != stateWaiting || e.visibleAt.After(now) {
			continue
		}
		if next == nil || e.visibleAt.Before(next.visibleAt) ||
			(e.visibleAt.Equal(next.visibleAt) && e.seq < next.seq) {
			next = e
		}
	}
	if next == nil {
		return nil, queue.ErrNoJob
	}

	next.state = stateActive
	next.job.AttemptsMade++
	next.job.LeaseToken = uuid.NewString()
	next.job.LeaseExpiry = now.Add(lease)

	job := next.job
	return &job, nil
}

// requeueExpired makes jobs with expired leases visible again. Must hold mu.
func (q *Queue) requeueExpired(now time.Time) {
	for id, e := range q.jobs {
		if e.state != stateActive || e.job.LeaseExpiry.After(now) {
			continue
		}
		e.job.LeaseToken = ""
		e.job.Stalls++
		if e.job.Stalls > q.opts.MaxStalls {
			e.state = stateFailed
			e.job.LastError = "lease expired"
			q.failed = append(q.failed, id)
			continue
		}
		e.state = stateWaiting
		e.visibleAt = now
	}
}

// Claim blocks until a job is leased or ctx is done.
func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*queue.Job, error) {
	return queue.PollClaim(ctx, q.opts.PollInterval, func() (*queue.Job, error) {
		return q.TryClaim(ctx, lease)
	})
}

// held returns the entry if job still holds its lease. Must hold mu.
func (q *Queue) held(job *queue.Job) (*entry, error) {
	e, ok := q.jobs[job.ID]
	if !ok || e.state != stateActive || e.job.LeaseToken == "" || e.job.LeaseToken != job.LeaseToken {
		return nil, queue.ErrLeaseLost
	}
	return e, nil
}

// Complete removes a finished job.
func (q *Queue) Complete(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.held(job); err != nil {
		return err
	}
	delete(q.jobs, job.ID)
	return nil
}

// Fail reschedules the job with backoff or moves it to the failed set.
func (q *Queue) Fail(_ context.Context, job *queue.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.held(job)
	if err != nil {
		return err
	}

	e.job.LeaseToken = ""
	if cause != nil {
		e.job.LastError = cause.Error()
	}

	if e.job.AttemptsMade >= e.job.MaxAttempts {
		e.state = stateFailed
		q.failed = append(q.failed, job.ID)
		return nil
	}

	e.state = stateWaiting
	e.visibleAt = q.opts.Now().Add(queue.RetryDelay(e.job.Backoff, e.job.AttemptsMade))
	return nil
}

// Extend pushes the lease expiry of a held job.
func (q *Queue) Extend(_ context.Context, job *queue.Job, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.held(job)
	if err != nil {
		return err
	}
	e.job.LeaseExpiry = q.opts.Now().Add(lease)
	job.LeaseExpiry = e.job.LeaseExpiry
	return nil
}

// Failed lists failed jobs, newest first.
func (q *Queue) Failed(_ context.Context, limit int) ([]*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*queue.Job
	for i := len(q.failed) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		if e, ok := q.jobs[q.failed[i]]; ok {
			job := e.job
			result = append(result, &job)
		}
	}
	return result, nil
}

// Counts reports queue depth.
func (q *Queue) Counts(_ context.Context) (queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var c queue.Counts
	for _, e := range q.jobs {
		switch e.state {
		case stateWaiting:
			c.Waiting++
		case stateActive:
			c.Active++
		case stateFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Names returns the names of waiting jobs in visibility order.
func (q *Queue) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var waiting []*entry
	for _, e := range q.jobs {
		if e.state == stateWaiting {
			waiting = append(waiting, e)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if !waiting[i].visibleAt.Equal(waiting[j].visibleAt) {
			return waiting[i].visibleAt.Before(waiting[j].visibleAt)
		}
		return waiting[i].seq < waiting[j].seq
	})

	names := make([]string, len(waiting))
	for i, e := range waiting {
		names[i] = e.job.Name
	}
	return names
}

// Close rejects further Enqueue and TryClaim calls. Jobs are discarded with
// the queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

var _ queue.Backend = (*Queue)(nil)
