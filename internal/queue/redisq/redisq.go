// Package redisq is a Redis-backed queue.Backend.
//
// Layout under prefix "sentinel:{<queue>}:":
//
//	waiting      ZSET  job id scored by visible-at (ms)
//	active       ZSET  job id scored by lease expiry (ms)
//	failed       LIST  job ids, newest at the head
//	job:<id>     HASH  job fields
//	dedup:<name> STRING job id, expires after the dedup TTL
//
// The braces make every key of one queue hash to the same cluster slot.
// All state transitions run as Lua scripts.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solana-pool-sentinel/internal/queue"
)

// Options configures a Queue.
type Options struct {
	PollInterval time.Duration
	DedupTTL     time.Duration
	MaxStalls    int
	Now          func() time.Time
	Logger       *zap.Logger
}

// Queue is a queue.Backend stored in Redis.
type Queue struct {
	client redis.UniversalClient
	name   string
	prefix string
	opts   Options
	logger *zap.Logger
}

// New creates a queue named name on client. The client is not owned by the
// queue and is not closed by Close.
func New(client redis.UniversalClient, name string, opts Options) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
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
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		client: client,
		name:   name,
		prefix: "sentinel:{" + name + "}:",
		opts:   opts,
		logger: logger.Named("redisq").With(zap.String("queue", name)),
	}
}

func (q *Queue) waitingKey() string          { return q.prefix + "waiting" }
func (q *Queue) activeKey() string           { return q.prefix + "active" }
func (q *Queue) failedKey() string           { return q.prefix + "failed" }
func (q *Queue) jobKeyPrefix() string        { return q.prefix + "job:" }
func (q *Queue) jobKey(id string) string     { return q.jobKeyPrefix() + id }
func (q *Queue) dedupKey(name string) string { return q.prefix + "dedup:" + name }

func (q *Queue) nowMs() int64 { return q.opts.Now().UnixMilli() }

// Enqueue adds a job unless name was enqueued within the dedup window.
func (q *Queue) Enqueue(ctx context.Context, name string, payload queue.Payload, opts queue.Options) (string, error) {
	opts = opts.Normalize()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	// v7 ids sort by creation time, keeping FIFO order within one millisecond.
	uid, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	id := uid.String()

	now := q.nowMs()
	keys := []string{q.dedupKey(name), q.waitingKey(), q.jobKey(id)}
	got, err := enqueueScript.Run(ctx, q.client, keys,
		id, name, string(data),
		opts.MaxAttempts, opts.Backoff.Milliseconds(),
		now, now+opts.Delay.Milliseconds(),
		q.opts.DedupTTL.Milliseconds(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}

	if got != id {
		q.logger.Debug("duplicate job skipped", zap.String("name", name), zap.String("existing_id", got))
	}
	return got, nil
}

// TryClaim leases the earliest visible job.
func (q *Queue) TryClaim(ctx context.Context, lease time.Duration) (*queue.Job, error) {
	now := q.nowMs()
	token := uuid.NewString()

	keys := []string{q.waitingKey(), q.activeKey(), q.failedKey()}
	res, err := claimScript.Run(ctx, q.client, keys,
		now, now+lease.Milliseconds(), token, q.opts.MaxStalls, q.jobKeyPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	fields, err := pairsToMap(res)
	if err != nil {
		return nil, err
	}
	return q.decodeJob(fields)
}

// Claim blocks until a job is leased or ctx is done.
func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*queue.Job, error) {
	return queue.PollClaim(ctx, q.opts.PollInterval, func() (*queue.Job, error) {
		return q.TryClaim(ctx, lease)
	})
}

// Complete removes a finished job.
func (q *Queue) Complete(ctx context.Context, job *queue.Job) error {
	ok, err := completeScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.jobKey(job.ID)},
		job.LeaseToken, job.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	if ok == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// Fail reschedules the job with backoff or moves it to the failed set.
func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := q.nowMs()
	retryAt := now + queue.RetryDelay(job.Backoff, job.AttemptsMade).Milliseconds()

	res, err := failScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.jobKey(job.ID), q.waitingKey(), q.failedKey()},
		job.LeaseToken, job.ID, msg, now, retryAt,
	).Int()
	if err != nil {
		return fmt.Errorf("fail %s: %w", job.ID, err)
	}
	if res < 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// Extend pushes the lease expiry of a held job.
func (q *Queue) Extend(ctx context.Context, job *queue.Job, lease time.Duration) error {
	expiry := q.opts.Now().Add(lease)
	ok, err := extendScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.jobKey(job.ID)},
		job.LeaseToken, job.ID, expiry.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", job.ID, err)
	}
	if ok == 0 {
		return queue.ErrLeaseLost
	}
	job.LeaseExpiry = expiry
	return nil
}

// Failed lists failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]*queue.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := q.client.LRange(ctx, q.failedKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load failed jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			q.logger.Warn("failed job hash missing", zap.String("id", ids[i]))
			continue
		}
		job, err := q.decodeJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Counts reports queue depth.
func (q *Queue) Counts(ctx context.Context) (queue.Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.waitingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	failed := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Counts{}, fmt.Errorf("counts: %w", err)
	}
	return queue.Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Close is a no-op; the client belongs to the caller.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) decodeJob(fields map[string]string) (*queue.Job, error) {
	job := &queue.Job{
		ID:         fields["id"],
		Queue:      q.name,
		Name:       fields["name"],
		LeaseToken: fields["lease_token"],
		LastError:  fields["last_error"],
	}

	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", job.ID, err)
		}
	}

	job.AttemptsMade = atoi(fields["attempts"])
	job.MaxAttempts = atoi(fields["max_attempts"])
	job.Stalls = atoi(fields["stalls"])
	job.Backoff = time.Duration(atoi64(fields["backoff_ms"])) * time.Millisecond
	job.EnqueuedAt = time.UnixMilli(atoi64(fields["enqueued_at"]))
	if v := fields["lease_expiry"]; v != "" && job.LeaseToken != "" {
		job.LeaseExpiry = time.UnixMilli(atoi64(v))
	}
	return job, nil
}

func pairsToMap(vals []interface{}) (map[string]string, error) {
	if len(vals)%2 != 0 {
		return nil, fmt.Errorf("unexpected job hash reply of length %d", len(vals))
	}
	m := make(map[string]string, len(vals)/2)
	for i := 0; i < len(vals); i += 2 {
		k, ok1 := vals[i].(string)
		v, ok2 := vals[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unexpected job hash entry %T=%T", vals[i], vals[i+1])
		}
		m[k] = v
	}
	return m, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ queue.Backend = (*Queue)(nil)
