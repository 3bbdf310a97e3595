package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pool-sentinel/internal/domain"
)

type fakeStore struct {
	err error
}

func (f fakeStore) Upsert(_ context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error) {
	return rec, f.err
}

func (f fakeStore) GetByKey(context.Context, string) (*domain.TokenRecord, error) {
	return nil, f.err
}

func (f fakeStore) ListRecent(context.Context, ListFilter) ([]*domain.TokenRecord, error) {
	return nil, f.err
}

type observation struct {
	db, op string
	err    error
}

func TestInstrumented_ReportsEveryCall(t *testing.T) {
	var seen []observation
	observe := func(db, op string, _ time.Duration, err error) {
		seen = append(seen, observation{db, op, err})
	}

	s := NewInstrumented(fakeStore{}, "postgres", observe)
	rec := &domain.TokenRecord{Key: "k"}
	out, err := s.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Same(t, rec, out)
	_, _ = s.ListRecent(context.Background(), ListFilter{})

	assert.Equal(t, []observation{{"postgres", "upsert", nil}, {"postgres", "list", nil}}, seen)
}

func TestInstrumented_NotFoundIsNotAnError(t *testing.T) {
	var got []error
	observe := func(_, _ string, _ time.Duration, err error) { got = append(got, err) }

	_, err := NewInstrumented(fakeStore{err: ErrNotFound}, "memory", observe).GetByKey(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	_, err = NewInstrumented(fakeStore{err: boom}, "memory", observe).GetByKey(context.Background(), "k")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []error{nil, boom}, got)
}

func TestInstrumented_NilObserver(t *testing.T) {
	s := NewInstrumented(fakeStore{}, "memory", nil)
	_, err := s.ListRecent(context.Background(), ListFilter{})
	assert.NoError(t, err)
}
