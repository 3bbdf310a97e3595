package storage

import (
	"context"
	"errors"
	"time"

	"solana-pool-sentinel/internal/domain"
)

// QueryObserver receives the outcome of every store call.
type QueryObserver func(database, operation string, elapsed time.Duration, err error)

// Instrumented reports the latency and errors of a TokenStore.
type Instrumented struct {
	next     TokenStore
	database string
	observe  QueryObserver
}

// NewInstrumented wraps next. database labels every observation.
func NewInstrumented(next TokenStore, database string, observe QueryObserver) *Instrumented {
	return &Instrumented{next: next, database: database, observe: observe}
}

func (s *Instrumented) Upsert(ctx context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error) {
	start := time.Now()
	out, err := s.next.Upsert(ctx, rec)
	s.report("upsert", start, err)
	return out, err
}

func (s *Instrumented) GetByKey(ctx context.Context, key string) (*domain.TokenRecord, error) {
	start := time.Now()
	out, err := s.next.GetByKey(ctx, key)
	// A miss is an answer, not a failure.
	if errors.Is(err, ErrNotFound) {
		s.report("get", start, nil)
	} else {
		s.report("get", start, err)
	}
	return out, err
}

func (s *Instrumented) ListRecent(ctx context.Context, filter ListFilter) ([]*domain.TokenRecord, error) {
	start := time.Now()
	out, err := s.next.ListRecent(ctx, filter)
	s.report("list", start, err)
	return out, err
}

func (s *Instrumented) report(op string, start time.Time, err error) {
	if s.observe != nil {
		s.observe(s.database, op, time.Since(start), err)
	}
}

var _ TokenStore = (*Instrumented)(nil)
