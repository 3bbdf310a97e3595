package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/solana"
)

var (
	// ErrTransactionNotFound is returned when the node does not (yet) know a
	// detected transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotAMint is returned when the account picked from the pool
	// instruction is not an SPL token mint.
	ErrNotAMint = errors.New("account is not a token mint")
)

// Default position of the base/quote mints in the initialize2 account list.
const (
	DefaultMintWindowStart = 8
	DefaultMintWindowEnd   = 10
)

// URIFetcher retrieves the off-chain JSON document a metadata URI points to.
type URIFetcher interface {
	Fetch(ctx context.Context, uri string) (json.RawMessage, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	RPC        solana.RPCClient
	URIFetcher URIFetcher // nil disables off-chain fetches

	ProgramID        string   // defaults to the Raydium AMM v4 program
	ExcludedAccounts []string // defaults to wrapped SOL
	WindowStart      int
	WindowEnd        int

	Logger *zap.Logger
}

// Resolver turns a pool-creation transaction into the token it lists.
type Resolver struct {
	rpc        solana.RPCClient
	uriFetcher URIFetcher
	programID  string
	excluded   map[string]struct{}
	winStart   int
	winEnd     int
	logger     *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.ProgramID == "" {
		opts.ProgramID = solana.RaydiumAMMProgramID
	}
	if opts.ExcludedAccounts == nil {
		opts.ExcludedAccounts = []string{solana.WrappedSOLMint}
	}
	if opts.WindowEnd <= opts.WindowStart || opts.WindowStart < 0 {
		opts.WindowStart, opts.WindowEnd = DefaultMintWindowStart, DefaultMintWindowEnd
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	excluded := make(map[string]struct{}, len(opts.ExcludedAccounts))
	for _, k := range opts.ExcludedAccounts {
		excluded[k] = struct{}{}
	}

	return &Resolver{
		rpc:        opts.RPC,
		uriFetcher: opts.URIFetcher,
		programID:  opts.ProgramID,
		excluded:   excluded,
		winStart:   opts.WindowStart,
		winEnd:     opts.WindowEnd,
		logger:     logger.Named("resolver"),
	}
}

// Resolve fetches txID and the token it created a pool for.
// Returns nil, nil when the transaction has no matching instruction or no
// candidate mint.
func (r *Resolver) Resolve(ctx context.Context, txID string) (*domain.ResolvedToken, error) {
	tx, err := r.rpc.GetParsedTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}

	mint := r.candidateMint(tx)
	if mint == "" {
		r.logger.Debug("no candidate mint in transaction", zap.String("signature", txID))
		return nil, nil
	}

	mintAcc, err := r.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account %s: %w", mint, err)
	}
	if !isTokenProgram(mintAcc.Owner) || len(mintAcc.Data) < solana.MintAccountLen {
		return nil, fmt.Errorf("%w: %s owned by %s (%d bytes)", ErrNotAMint, mint, mintAcc.Owner, len(mintAcc.Data))
	}
	parsedMint, err := solana.ParseMint(mintAcc.Data)
	if err != nil {
		return nil, fmt.Errorf("parse mint %s: %w", mint, err)
	}

	pda, err := solana.MetadataPDA(mint)
	if err != nil {
		return nil, fmt.Errorf("derive metadata address for %s: %w", mint, err)
	}
	metaAcc, err := r.rpc.GetAccountInfo(ctx, pda)
	if err != nil {
		return nil, fmt.Errorf("get metadata account %s: %w", pda, err)
	}
	parsedMeta, err := solana.ParseMetadata(metaAcc.Data)
	if err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", pda, err)
	}

	token := &domain.ResolvedToken{
		Address:       mint,
		TransactionID: txID,
		Mint: domain.MintInfo{
			Decimals:        parsedMint.Decimals,
			Supply:          strconv.FormatUint(parsedMint.Supply, 10),
			MintAuthority:   parsedMint.MintAuthority,
			FreezeAuthority: parsedMint.FreezeAuthority,
		},
		Metadata: toDomainMetadata(parsedMeta),
	}

	if uri := token.Metadata.URI; uri != "" && r.uriFetcher != nil {
		data, err := r.uriFetcher.Fetch(ctx, uri)
		if err != nil {
			r.logger.Warn("uri fetch failed",
				zap.String("signature", txID),
				zap.String("uri", uri),
				zap.Error(err))
		} else {
			token.UriData = data
		}
	}

	return token, nil
}

// candidateMint returns the first non-excluded account in the mint window of
// the first instruction addressed to the exchange program.
func (r *Resolver) candidateMint(tx *solana.ParsedTransaction) string {
	for _, ix := range tx.Instructions {
		if ix.ProgramID != r.programID {
			continue
		}
		for i := r.winStart; i < r.winEnd && i < len(ix.Accounts); i++ {
			if _, skip := r.excluded[ix.Accounts[i]]; !skip {
				return ix.Accounts[i]
			}
		}
		return ""
	}
	return ""
}

func isTokenProgram(owner string) bool {
	return owner == solana.TokenProgramID || owner == solana.Token2022ProgramID
}

func toDomainMetadata(m *solana.Metadata) domain.TokenMetadata {
	creators := make([]domain.Creator, 0, len(m.Creators))
	for _, c := range m.Creators {
		creators = append(creators, domain.Creator{Address: c.Address, Verified: c.Verified, Share: c.Share})
	}
	return domain.TokenMetadata{
		MintAddress:          m.Mint,
		Name:                 NormalizeText(m.Name),
		Symbol:               NormalizeText(m.Symbol),
		URI:                  NormalizeText(m.URI),
		SellerFeeBasisPoints: m.SellerFeeBasisPoints,
		Creators:             creators,
		UpdateAuthority:      m.UpdateAuthority,
		IsMutable:            m.IsMutable,
		PrimarySaleHappened:  m.PrimarySaleHappened,
		TokenStandard:        m.TokenStandard,
	}
}

// NormalizeText strips NUL padding and other control characters and trims
// surrounding whitespace.
func NormalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
