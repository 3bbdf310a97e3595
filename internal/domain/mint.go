package domain

// MintInfo is the decoded SPL token mint account.
// Fetched per resolution, never cached.
type MintInfo struct {
	Decimals        uint8   `json:"decimals"`
	Supply          string  `json:"supply"` // raw u64 amount as decimal string
	MintAuthority   *string `json:"mintAuthority"`
	FreezeAuthority *string `json:"freezeAuthority"`
}
