package storage

import (
	"context"

	"solana-pool-sentinel/internal/domain"
)

// List limits applied by ListFilter.Normalize.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter selects records for ListRecent.
type ListFilter struct {
	Limit     int              // clamped to [1, MaxListLimit]; 0 means DefaultListLimit
	RiskLevel domain.RiskLevel // empty matches every level
}

// Normalize returns the filter with the limit defaulted and clamped.
func (f ListFilter) Normalize() ListFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

// TokenStore persists resolved and scored tokens.
type TokenStore interface {
	// Upsert inserts or replaces the record with rec.Key. CreatedAt of an
	// existing record is preserved. Returns the stored record.
	// Returns ErrInvalidInput if the key, address or transaction id is empty.
	Upsert(ctx context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error)

	// GetByKey retrieves a record by its key. Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, key string) (*domain.TokenRecord, error)

	// ListRecent retrieves records ordered by CreatedAt DESC.
	ListRecent(ctx context.Context, filter ListFilter) ([]*domain.TokenRecord, error)
}

// ValidateRecord checks the identity fields every store requires.
func ValidateRecord(rec *domain.TokenRecord) error {
	if rec == nil || rec.Key == "" || rec.Address == "" || rec.TransactionID == "" {
		return ErrInvalidInput
	}
	return nil
}
