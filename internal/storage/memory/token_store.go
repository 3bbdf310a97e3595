package memory

import (
	"context"
	"sort"
	"sync"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu    sync.RWMutex
	byKey map[string]*domain.TokenRecord
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byKey: make(map[string]*domain.TokenRecord),
	}
}

// Upsert inserts or replaces a record, preserving CreatedAt of an existing one.
func (s *TokenStore) Upsert(_ context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error) {
	if err := storage.ValidateRecord(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyRecord(rec)
	if existing, ok := s.byKey[rec.Key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.byKey[rec.Key] = stored

	return copyRecord(stored), nil
}

// GetByKey retrieves a record by key. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByKey(_ context.Context, key string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byKey[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRecord(rec), nil
}

// ListRecent retrieves records ordered by CreatedAt DESC, ties broken by key.
func (s *TokenStore) ListRecent(_ context.Context, filter storage.ListFilter) ([]*domain.TokenRecord, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	result := make([]*domain.TokenRecord, 0, len(s.byKey))
	for _, rec := range s.byKey {
		if filter.RiskLevel != "" && rec.RiskAnalysis.RiskLevel != filter.RiskLevel {
			continue
		}
		result = append(result, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].Key < result[j].Key
	})

	if len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// copyRecord copies slices so callers cannot mutate stored state.
func copyRecord(rec *domain.TokenRecord) *domain.TokenRecord {
	c := *rec
	c.Metadata.Creators = append([]domain.Creator(nil), rec.Metadata.Creators...)
	c.RiskAnalysis.Risks = append([]string(nil), rec.RiskAnalysis.Risks...)
	if rec.UriData != nil {
		c.UriData = append([]byte(nil), rec.UriData...)
	}
	return &c
}

var _ storage.TokenStore = (*TokenStore)(nil)
