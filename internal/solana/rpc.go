package solana

import (
	"context"
	"encoding/json"
	"errors"
)

// Well-known program and mint addresses.
const (
	RaydiumAMMProgramID   = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	MetadataProgramID     = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	TokenProgramID        = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID    = "TokenzQdBNbLqP5VEhdkAS6EPFLC8PluMQmYAd8B5eY3"
	WrappedSOLMint        = "So11111111111111111111111111111111111111112"
	DefaultCommitment     = "confirmed"
	maxSupportedTxVersion = 0
)

// ErrAccountNotFound is returned when an account does not exist on chain.
var ErrAccountNotFound = errors.New("account not found")

// RPCClient defines the Solana JSON-RPC calls used for token resolution.
type RPCClient interface {
	// GetParsedTransaction retrieves a transaction with jsonParsed encoding.
	// Returns nil, nil when the node does not know the transaction (yet).
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)

	// GetAccountInfo retrieves raw account data. Returns ErrAccountNotFound if missing.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)
}

// ParsedTransaction is a confirmed transaction decoded with jsonParsed encoding.
type ParsedTransaction struct {
	Slot         int64
	Signature    string
	BlockTime    *int64 // Unix seconds, nil when unknown
	Err          interface{}
	LogMessages  []string
	AccountKeys  []string
	Instructions []ParsedInstruction
}

// ParsedInstruction is a top-level instruction of a parsed transaction.
// Instructions of programs the node cannot parse carry Accounts and Data;
// known programs carry Program and Parsed instead.
type ParsedInstruction struct {
	ProgramID string
	Program   string
	Accounts  []string
	Data      string
	Parsed    json.RawMessage
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded from base64
	Executable bool
	RentEpoch  uint64
}

// ExplorerTxURL returns the Solana Explorer page of a transaction.
func ExplorerTxURL(signature string) string {
	return "https://explorer.solana.com/tx/" + signature
}
