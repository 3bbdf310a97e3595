package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	enqueued []string
	closeErr error
	closed   bool
	counts   Counts
}

func (s *stubBackend) Enqueue(_ context.Context, name string, _ Payload, _ Options) (string, error) {
	s.enqueued = append(s.enqueued, name)
	return "id-" + name, nil
}
func (s *stubBackend) TryClaim(context.Context, time.Duration) (*Job, error) { return nil, ErrNoJob }
func (s *stubBackend) Claim(context.Context, time.Duration) (*Job, error)    { return nil, ErrNoJob }
func (s *stubBackend) Complete(context.Context, *Job) error                  { return nil }
func (s *stubBackend) Fail(context.Context, *Job, error) error               { return nil }
func (s *stubBackend) Extend(context.Context, *Job, time.Duration) error     { return nil }
func (s *stubBackend) Failed(context.Context, int) ([]*Job, error)           { return nil, nil }
func (s *stubBackend) Counts(context.Context) (Counts, error)                { return s.counts, nil }
func (s *stubBackend) Close() error {
	s.closed = true
	return s.closeErr
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	b := &stubBackend{}

	require.NoError(t, r.Register("raydium-tokens", b))
	assert.Error(t, r.Register("raydium-tokens", &stubBackend{}))
	assert.Error(t, r.Register("", b))
	assert.Error(t, r.Register("other", nil))

	got, err := r.Get("raydium-tokens")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestRegistry_Enqueue(t *testing.T) {
	r := NewRegistry()
	b := &stubBackend{}
	require.NoError(t, r.Register("raydium-tokens", b))

	id, err := r.Enqueue(context.Background(), "raydium-tokens", "sig1", Payload{TxID: "sig1"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "id-sig1", id)
	assert.Equal(t, []string{"sig1"}, b.enqueued)

	_, err = r.Enqueue(context.Background(), "missing", "sig1", Payload{TxID: "sig1"}, Options{})
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestRegistry_NamesAndClose(t *testing.T) {
	r := NewRegistry()
	a := &stubBackend{}
	b := &stubBackend{closeErr: errors.New("close failed")}
	require.NoError(t, r.Register("b", b))
	require.NoError(t, r.Register("a", a))

	assert.Equal(t, []string{"a", "b"}, r.Names())

	err := r.Close()
	assert.ErrorContains(t, err, "close failed")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestRegistry_WatchDepth(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("q", &stubBackend{counts: Counts{Waiting: 3, Active: 1}}))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Counts, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.WatchDepth(ctx, time.Hour, func(name string, c Counts, err error) {
			assert.Equal(t, "q", name)
			assert.NoError(t, err)
			got <- c
		})
	}()

	assert.Equal(t, Counts{Waiting: 3, Active: 1}, <-got)
	cancel()
	<-done
}
