package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/storage"
)

// TokenStore implements storage.TokenStore using a ReplacingMergeTree table.
// Every upsert appends a row; the row with the highest updated_at wins and
// reads use FINAL to see only that row.
type TokenStore struct {
	conn *Conn
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(conn *Conn) *TokenStore {
	return &TokenStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	key, address, network, transaction_id, name, symbol, uri,
	decimals, supply, authorities, metadata, uri_data, risk_analysis,
	created_at, updated_at
`

// Upsert appends a new version of the record, carrying over created_at
// from the current version when one exists.
func (s *TokenStore) Upsert(ctx context.Context, rec *domain.TokenRecord) (*domain.TokenRecord, error) {
	if err := storage.ValidateRecord(rec); err != nil {
		return nil, err
	}

	stored := *rec
	createdAt, err := s.createdAt(ctx, rec.Key)
	switch {
	case err == nil:
		stored.CreatedAt = createdAt
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("check existing token: %w", err)
	}

	authorities, err := json.Marshal(stored.Authorities)
	if err != nil {
		return nil, fmt.Errorf("marshal authorities: %w", err)
	}
	metadata, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	risk, err := json.Marshal(stored.RiskAnalysis)
	if err != nil {
		return nil, fmt.Errorf("marshal risk analysis: %w", err)
	}

	var uriData *string
	if len(stored.UriData) > 0 {
		v := string(stored.UriData)
		uriData = &v
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tokens (
			key, address, network, transaction_id, name, symbol, uri,
			decimals, supply, authorities, metadata, uri_data, risk_level, risk_analysis,
			created_at, updated_at
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		stored.Key,
		stored.Address,
		stored.Network,
		stored.TransactionID,
		stored.Name,
		stored.Symbol,
		stored.URI,
		stored.Decimals,
		stored.Supply,
		string(authorities),
		string(metadata),
		uriData,
		string(stored.RiskAnalysis.RiskLevel),
		string(risk),
		uint64(stored.CreatedAt),
		uint64(stored.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}

	return &stored, nil
}

// GetByKey retrieves a record by key. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByKey(ctx context.Context, key string) (*domain.TokenRecord, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens FINAL WHERE key = ? LIMIT 1`

	rec, err := scanToken(s.conn.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		FROM tokens FINAL
		WHERE (? = '' OR risk_level = ?)
		ORDER BY created_at DESC, key ASC
		LIMIT ?
	`

	level := string(filter.RiskLevel)
	rows, err := s.conn.Query(ctx, query, level, level, filter.Limit)
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

func (s *TokenStore) createdAt(ctx context.Context, key string) (int64, error) {
	var createdAt uint64
	err := s.conn.QueryRow(ctx, `SELECT created_at FROM tokens FINAL WHERE key = ? LIMIT 1`, key).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return int64(createdAt), nil
}

// rowScanner is satisfied by driver.Row and driver.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ rowScanner = (driver.Row)(nil)
	_ rowScanner = (driver.Rows)(nil)
)

func scanToken(row rowScanner) (*domain.TokenRecord, error) {
	var (
		rec                         domain.TokenRecord
		authorities, metadata, risk string
		uriData                     *string
		createdAt, updatedAt        uint64
	)

	err := row.Scan(
		&rec.Key,
		&rec.Address,
		&rec.Network,
		&rec.TransactionID,
		&rec.Name,
		&rec.Symbol,
		&rec.URI,
		&rec.Decimals,
		&rec.Supply,
		&authorities,
		&metadata,
		&uriData,
		&risk,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authorities), &rec.Authorities); err != nil {
		return nil, fmt.Errorf("unmarshal authorities: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(risk), &rec.RiskAnalysis); err != nil {
		return nil, fmt.Errorf("unmarshal risk analysis: %w", err)
	}
	if uriData != nil {
		rec.UriData = json.RawMessage(*uriData)
	}
	rec.CreatedAt = int64(createdAt)
	rec.UpdatedAt = int64(updatedAt)

	return &rec, nil
}
