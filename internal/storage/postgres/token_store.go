package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	key, address, network, transaction_id, name, symbol, uri,
	decimals, supply::text, authorities, metadata, uri_data, risk_analysis,
	created_at, updated_at
`

// Upsert inserts a record or replaces the one with the same key.
// created_at is never overwritten.
func (s *TokenStore) Upsert(ctx context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error) {
	if err := storage.ValidateRecord(rec); err != nil {
		return nil, err
	}

	authorities, err := json.Marshal(rec.Authorities)
	if err != nil {
		return nil, fmt.Errorf("marshal authorities: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	risk, err := json.Marshal(rec.RiskAnalysis)
	if err != nil {
		return nil, fmt.Errorf("marshal risk analysis: %w", err)
	}

	var uriData []byte
	if len(rec.UriData) > 0 {
		uriData = rec.UriData
	}

	query := `
		INSERT INTO tokens (
			key, address, network, transaction_id, name, symbol, uri,
			decimals, supply, authorities, metadata, uri_data, risk_analysis,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (key) DO UPDATE SET
			address        = EXCLUDED.address,
			network        = EXCLUDED.network,
			transaction_id = EXCLUDED.transaction_id,
			name           = EXCLUDED.name,
			symbol         = EXCLUDED.symbol,
			uri            = EXCLUDED.uri,
			decimals       = EXCLUDED.decimals,
			supply         = EXCLUDED.supply,
			authorities    = EXCLUDED.authorities,
			metadata       = EXCLUDED.metadata,
			uri_data       = EXCLUDED.uri_data,
			risk_analysis  = EXCLUDED.risk_analysis,
			updated_at     = EXCLUDED.updated_at
		RETURNING ` + tokenColumns

	row := s.pool.QueryRow(ctx, query,
		rec.Key,
		rec.Address,
		rec.Network,
		rec.TransactionID,
		rec.Name,
		rec.Symbol,
		rec.URI,
		int16(rec.Decimals),
		supplyOrZero(rec.Supply),
		authorities,
		metadata,
		uriData,
		risk,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	stored, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("upsert token: %w", err)
	}
	return stored, nil
}

// GetByKey retrieves a record by key. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByKey(ctx context.Context, key string) (*domain.TokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE key = $1`

	rec, err := scanToken(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by key: %w", err)
	}
	return rec, nil
}

// ListRecent retrieves records ordered by created_at DESC.
func (s *TokenStore) ListRecent(ctx context.Context, filter storage.ListFilter) ([]*domain.TokenRecord, error) {
	filter = filter.Normalize()

	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE ($1 = '' OR risk_level = $1)
		ORDER BY created_at DESC, key ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, string(filter.RiskLevel), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("query recent tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	return result, nil
}

// scanToken scans a single row into TokenRecord.
func scanToken(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		rec                         domain.TokenRecord
		decimals                    int16
		authorities, metadata, risk []byte
		uriData                     []byte
	)

	err := row.Scan(
		&rec.Key,
		&rec.Address,
		&rec.Network,
		&rec.TransactionID,
		&rec.Name,
		&rec.Symbol,
		&rec.URI,
		&decimals,
		&rec.Supply,
		&authorities,
		&metadata,
		&uriData,
		&risk,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Decimals = uint8(decimals)
	if err := json.Unmarshal(authorities, &rec.Authorities); err != nil {
		return nil, fmt.Errorf("unmarshal authorities: %w", err)
	}
	if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(risk, &rec.RiskAnalysis); err != nil {
		return nil, fmt.Errorf("unmarshal risk analysis: %w", err)
	}
	if len(uriData) > 0 {
		rec.UriData = json.RawMessage(uriData)
	}

	return &rec, nil
}

func supplyOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
