package domain

// TokenMetadata represents the Metaplex metadata account of a mint.
// Text fields are normalized: NUL padding stripped, control characters removed, trimmed.
type TokenMetadata struct {
	MintAddress          string    `json:"mintAddress"`
	Name                 string    `json:"name"`
	Symbol               string    `json:"symbol"`
	URI                  string    `json:"uri"`
	SellerFeeBasisPoints uint16    `json:"sellerFeeBasisPoints"`
	Creators             []Creator `json:"creators"`
	UpdateAuthority      string    `json:"updateAuthority"`
	IsMutable            bool      `json:"isMutable"`
	PrimarySaleHappened  bool      `json:"primarySaleHappened"`
	TokenStandard        *uint8    `json:"tokenStandard,omitempty"` // nil when the account predates token standards
}

// Creator is a single entry of the metadata creators list.
type Creator struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
	Share    uint8  `json:"share"`
}
