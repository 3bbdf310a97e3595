package domain

import "encoding/json"

// NetworkSolana is the only network tokens are recorded for.
const NetworkSolana = "solana"

// Authorities groups the authority keys of a token.
type Authorities struct {
	Mint   *string `json:"mint"`
	Freeze *string `json:"freeze"`
	Update string  `json:"update"`
}

// ResolvedToken is the output of resolving a pool-creation transaction.
type ResolvedToken struct {
	Address       string
	TransactionID string
	Mint          MintInfo
	Metadata      TokenMetadata
	UriData       json.RawMessage // nil when the off-chain fetch failed
}

// TokenRecord is the persisted form of a detected token.
// Identity is Key = hash(Address, TransactionID); re-processing upserts.
type TokenRecord struct {
	Key           string          `json:"key"`
	Address       string          `json:"address"`
	Network       string          `json:"network"`
	TransactionID string          `json:"transactionId"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	URI           string          `json:"uri"`
	Decimals      uint8           `json:"decimals"`
	Supply        string          `json:"supply"`
	Authorities   Authorities     `json:"authorities"`
	Metadata      TokenMetadata   `json:"metadata"`
	UriData       json.RawMessage `json:"uriData"`
	RiskAnalysis  RiskAssessment  `json:"riskAnalysis"`
	CreatedAt     int64           `json:"createdAt"` // ms, preserved across upserts
	UpdatedAt     int64           `json:"updatedAt"` // ms
}
