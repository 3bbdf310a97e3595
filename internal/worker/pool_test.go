package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pool-sentinel/internal/queue"
	"solana-pool-sentinel/internal/queue/memq"
)

const testQueue = "raydium-tokens"

func newRegistry(t *testing.T) (*queue.Registry, *memq.Queue) {
	t.Helper()
	q := memq.New(testQueue, memq.Options{PollInterval: 2 * time.Millisecond})
	r := queue.NewRegistry()
	require.NoError(t, r.Register(testQueue, q))
	return r, q
}

func collect(t *testing.T, results <-chan JobResult, n int) []JobResult {
	t.Helper()
	var out []JobResult
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case r := <-results:
			out = append(out, r)
		case <-timeout:
			t.Fatalf("timed out waiting for %d results, got %d", n, len(out))
		}
	}
	return out
}

func TestPool_CompletesJobs(t *testing.T) {
	reg, q := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})

	var seen sync.Map
	err := pool.Register(testQueue, func(_ context.Context, job *queue.Job) error {
		seen.Store(job.Payload.TxID, true)
		return nil
	}, 3, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	for _, sig := range []string{"sig1", "sig2", "sig3", "sig4"} {
		_, err := reg.Enqueue(ctx, testQueue, sig, queue.Payload{TxID: sig}, queue.Options{})
		require.NoError(t, err)
	}

	results := collect(t, pool.Results(), 4)
	for _, r := range results {
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, testQueue, r.Queue)
		assert.NoError(t, r.Err)
		_, ok := seen.Load(r.TxID)
		assert.True(t, ok, "unexpected tx %s", r.TxID)
	}

	require.NoError(t, pool.Close())
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestPool_FailedJobGoesToFailedSet(t *testing.T) {
	reg, q := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})
	defer pool.Close()

	boom := errors.New("transaction not found")
	require.NoError(t, pool.Register(testQueue, func(context.Context, *queue.Job) error {
		return boom
	}, 1, time.Minute))

	ctx := context.Background()
	_, err := reg.Enqueue(ctx, testQueue, "sig1", queue.Payload{TxID: "sig1"}, queue.Options{})
	require.NoError(t, err)

	r := collect(t, pool.Results(), 1)[0]
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, boom)
	assert.Equal(t, 1, r.Attempts)

	failed, err := q.Failed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "transaction not found", failed[0].LastError)
}

type brokenBackend struct {
	queue.Backend
	claims atomic.Int32
}

func (b *brokenBackend) Claim(context.Context, time.Duration) (*queue.Job, error) {
	b.claims.Add(1)
	return nil, errors.New("connection refused")
}

func TestPool_ConcurrencyBound(t *testing.T) {
	reg, _ := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})
	defer pool.Close()

	const concurrency, jobs = 5, 40
	var inFlight, peak atomic.Int32
	err := pool.Register(testQueue, func(context.Context, *queue.Job) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}, concurrency, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < jobs; i++ {
		sig := fmt.Sprintf("sig%d", i)
		_, err := reg.Enqueue(ctx, testQueue, sig, queue.Payload{TxID: sig}, queue.Options{})
		require.NoError(t, err)
	}

	for _, r := range collect(t, pool.Results(), jobs) {
		assert.Equal(t, StatusCompleted, r.Status)
	}
	require.LessOrEqual(t, peak.Load(), int32(concurrency))
	assert.Positive(t, peak.Load())
}

func TestPool_PanicFailsJob(t *testing.T) {
	reg, q := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})
	defer pool.Close()

	require.NoError(t, pool.Register(testQueue, func(_ context.Context, job *queue.Job) error {
		if job.Payload.TxID == "bad" {
			panic("index out of range")
		}
		return nil
	}, 1, time.Minute))

	ctx := context.Background()
	_, err := reg.Enqueue(ctx, testQueue, "bad", queue.Payload{TxID: "bad"}, queue.Options{})
	require.NoError(t, err)
	_, err = reg.Enqueue(ctx, testQueue, "good", queue.Payload{TxID: "good"}, queue.Options{})
	require.NoError(t, err)

	results := collect(t, pool.Results(), 2)
	byTx := map[string]JobResult{}
	for _, r := range results {
		byTx[r.TxID] = r
	}
	assert.Equal(t, StatusFailed, byTx["bad"].Status)
	assert.ErrorIs(t, byTx["bad"].Err, ErrJobPanicked)
	assert.ErrorContains(t, byTx["bad"].Err, "index out of range")
	// The consumer survives and keeps processing.
	assert.Equal(t, StatusCompleted, byTx["good"].Status)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Payload.TxID)
}

func TestPool_ClaimErrorEmitsErrorStatus(t *testing.T) {
	reg := queue.NewRegistry()
	backend := &brokenBackend{}
	require.NoError(t, reg.Register(testQueue, backend))

	pool := NewPool(PoolOptions{Registry: reg, ErrorBackoff: 5 * time.Millisecond})
	require.NoError(t, pool.Register(testQueue, func(context.Context, *queue.Job) error { return nil }, 1, time.Minute))

	r := collect(t, pool.Results(), 1)[0]
	assert.Equal(t, StatusError, r.Status)
	assert.ErrorContains(t, r.Err, "connection refused")

	require.NoError(t, pool.Close())
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	reg, _ := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})

	started := make(chan struct{})
	release := make(chan struct{})
	var ctxErr atomic.Value
	require.NoError(t, pool.Register(testQueue, func(ctx context.Context, _ *queue.Job) error {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	}, 1, time.Minute))

	_, err := reg.Enqueue(context.Background(), testQueue, "sig1", queue.Payload{TxID: "sig1"}, queue.Options{})
	require.NoError(t, err)
	<-started

	closed := make(chan struct{})
	go func() {
		_ = pool.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before in-flight job finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.Nil(t, ctxErr.Load(), "in-flight job context was cancelled")

	var results []JobResult
	for r := range pool.Results() {
		results = append(results, r)
	}
	require.Len(t, results, 1)
	assert.Equal(t, StatusCompleted, results[0].Status)
}

func TestPool_ResultsOverflowIsCounted(t *testing.T) {
	reg, _ := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg, ResultBuffer: 1})

	var processed atomic.Int32
	require.NoError(t, pool.Register(testQueue, func(context.Context, *queue.Job) error {
		processed.Add(1)
		return nil
	}, 1, time.Minute))

	ctx := context.Background()
	for _, sig := range []string{"sig1", "sig2", "sig3"} {
		_, err := reg.Enqueue(ctx, testQueue, sig, queue.Payload{TxID: sig}, queue.Options{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return processed.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pool.Dropped() == 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Close())
}

func TestPool_LeaseIsExtendedWhileProcessing(t *testing.T) {
	reg, q := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})
	defer pool.Close()

	var calls atomic.Int32
	require.NoError(t, pool.Register(testQueue, func(context.Context, *queue.Job) error {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil
	}, 2, 30*time.Millisecond))

	_, err := reg.Enqueue(context.Background(), testQueue, "sig1", queue.Payload{TxID: "sig1"}, queue.Options{})
	require.NoError(t, err)

	r := collect(t, pool.Results(), 1)[0]
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, int32(1), calls.Load())

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestPool_RegisterErrors(t *testing.T) {
	reg, _ := newRegistry(t)
	pool := NewPool(PoolOptions{Registry: reg})
	fn := func(context.Context, *queue.Job) error { return nil }

	assert.ErrorIs(t, pool.Register("missing", fn, 1, time.Second), queue.ErrQueueNotFound)
	assert.Error(t, pool.Register(testQueue, nil, 1, time.Second))
	require.NoError(t, pool.Register(testQueue, fn, 1, time.Second))
	assert.Error(t, pool.Register(testQueue, fn, 1, time.Second))

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
}

func TestManager_InitIsIdempotent(t *testing.T) {
	reg, _ := newRegistry(t)
	var m Manager
	opts := ManagerOptions{
		Pool: PoolOptions{Registry: reg},
		Queues: []QueueSpec{{
			Name:    testQueue,
			Process: func(context.Context, *queue.Job) error { return nil },
		}},
	}

	first, err := m.Init(opts)
	require.NoError(t, err)
	second, err := m.Init(opts)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, m.Pool())

	require.NoError(t, m.Close())
}

func TestManager_InitFailure(t *testing.T) {
	var m Manager
	_, err := m.Init(ManagerOptions{
		Pool:   PoolOptions{Registry: queue.NewRegistry()},
		Queues: []QueueSpec{{Name: "missing", Process: func(context.Context, *queue.Job) error { return nil }}},
	})
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
	assert.Nil(t, m.Pool())
	assert.NoError(t, m.Close())
}
