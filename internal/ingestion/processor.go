// Package ingestion resolves detected pool transactions into scored token records.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/idhash"
	"solana-pool-sentinel/internal/observability"
	"solana-pool-sentinel/internal/queue"
	"solana-pool-sentinel/internal/risk"
	"solana-pool-sentinel/internal/solana"
	"solana-pool-sentinel/internal/storage"
)

// TokenResolver resolves a transaction signature into a token.
type TokenResolver interface {
	Resolve(ctx context.Context, txID string) (*domain.ResolvedToken, error)
}

// StoredNotifier is told about every persisted record.
type StoredNotifier interface {
	TokenStored(ctx context.Context, rec *domain.TokenRecord)
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Resolver TokenResolver
	Store    storage.TokenStore
	Notifier StoredNotifier // optional
	Metrics  *observability.Metrics
	Now      func() time.Time
	Logger   *zap.Logger
}

// Processor handles one queued detection: resolve, score, persist.
type Processor struct {
	resolver TokenResolver
	store    storage.TokenStore
	notifier StoredNotifier
	metrics  *observability.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		resolver: opts.Resolver,
		store:    opts.Store,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		now:      opts.Now,
		logger:   logger.Named("processor"),
	}
}

// Process is a worker.ProcessFunc for detection jobs.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Payload.TxID == "" {
		return fmt.Errorf("job %s: empty txId", job.ID)
	}
	_, err := p.ProcessTx(ctx, job.Payload.TxID)
	return err
}

// ProcessTx resolves txID and upserts the scored record. It returns nil, nil
// when the transaction does not list a token.
func (p *Processor) ProcessTx(ctx context.Context, txID string) (*domain.TokenRecord, error) {
	start := time.Now()
	resolved, err := p.resolver.Resolve(ctx, txID)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.RecordResolve(elapsed, false, failureReason(err))
		return nil, fmt.Errorf("resolve %s: %w", txID, err)
	}
	if resolved == nil {
		p.metrics.RecordResolve(elapsed, true, "")
		p.logger.Debug("transaction lists no token", zap.String("signature", txID))
		return nil, nil
	}
	p.metrics.RecordResolve(elapsed, false, "")
	if resolved.Metadata.URI != "" && resolved.UriData == nil {
		p.metrics.RecordURIFetchError()
	}

	assessment := risk.Score(resolved.Metadata, resolved.Mint)
	rec := BuildRecord(resolved, assessment, p.now())

	stored, err := p.store.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("store token %s: %w", resolved.Address, err)
	}

	p.metrics.RecordTokenStored(string(stored.RiskAnalysis.RiskLevel))
	p.logger.Info("new token found",
		zap.String("name", displayName(stored.Name)),
		zap.String("symbol", stored.Symbol),
		zap.String("mint", stored.Address),
		zap.String("risk_level", string(stored.RiskAnalysis.RiskLevel)),
		zap.Strings("risks", stored.RiskAnalysis.Risks),
		zap.String("explorer", solana.ExplorerTxURL(txID)))

	if p.notifier != nil {
		p.notifier.TokenStored(ctx, stored)
	}
	return stored, nil
}

// BuildRecord assembles the persisted record for a resolved token.
func BuildRecord(t *domain.ResolvedToken, assessment domain.RiskAssessment, now time.Time) *domain.TokenRecord {
	ms := now.UnixMilli()
	return &domain.TokenRecord{
		Key:           idhash.ComputeTokenKey(t.Address, t.TransactionID),
		Address:       t.Address,
		Network:       domain.NetworkSolana,
		TransactionID: t.TransactionID,
		Name:          t.Metadata.Name,
		Symbol:        t.Metadata.Symbol,
		URI:           t.Metadata.URI,
		Decimals:      t.Mint.Decimals,
		Supply:        t.Mint.Supply,
		Authorities: domain.Authorities{
			Mint:   t.Mint.MintAuthority,
			Freeze: t.Mint.FreezeAuthority,
			Update: t.Metadata.UpdateAuthority,
		},
		Metadata:     t.Metadata,
		UriData:      t.UriData,
		RiskAnalysis: assessment,
		CreatedAt:    ms,
		UpdatedAt:    ms,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrNotAMint):
		return "not_a_mint"
	case errors.Is(err, solana.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "other"
	}
}

func displayName(name string) string {
	if name == "" {
		return "MISSING"
	}
	return name
}
