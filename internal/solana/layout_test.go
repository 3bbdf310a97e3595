package solana

import (
	"errors"
	"testing"

	"solana-pool-sentinel/internal/solana/solanatest"
)

func TestParseMint(t *testing.T) {
	authority := solanatest.Pubkey(3)
	data := solanatest.MintAccount(1_000_000_000_000, 6, authority, "")

	mint, err := ParseMint(data)
	if err != nil {
		t.Fatalf("ParseMint: %v", err)
	}

	if mint.Supply != 1_000_000_000_000 {
		t.Errorf("expected supply 1e12, got %d", mint.Supply)
	}
	if mint.Decimals != 6 {
		t.Errorf("expected decimals 6, got %d", mint.Decimals)
	}
	if !mint.IsInitialized {
		t.Error("expected initialized mint")
	}
	if mint.MintAuthority == nil || *mint.MintAuthority != authority {
		t.Errorf("unexpected mint authority: %v", mint.MintAuthority)
	}
	if mint.FreezeAuthority != nil {
		t.Errorf("expected no freeze authority, got %s", *mint.FreezeAuthority)
	}
}

func TestParseMint_Short(t *testing.T) {
	_, err := ParseMint(make([]byte, 81))
	if !errors.Is(err, ErrShortAccount) {
		t.Fatalf("expected ErrShortAccount, got %v", err)
	}
}

func TestParseMetadata(t *testing.T) {
	standard := uint8(2)
	creator := solanatest.Pubkey(5)
	data := solanatest.MetadataAccount(solanatest.Metadata{
		Mint:                 solanatest.Pubkey(8),
		Name:                 "Pool Token\x00\x00\x00",
		Symbol:               "POOL",
		URI:                  "https://arweave.net/abc",
		SellerFeeBasisPoints: 500,
		Creators:             []solanatest.Creator{{Address: creator, Verified: true, Share: 100}},
		IsMutable:            true,
		TokenStandard:        &standard,
		PadTo:                679,
	})

	m, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	if m.Mint != solanatest.Pubkey(8) {
		t.Errorf("unexpected mint %s", m.Mint)
	}
	if m.Name != "Pool Token\x00\x00\x00" {
		t.Errorf("name must be returned raw, got %q", m.Name)
	}
	if m.Symbol != "POOL" || m.URI != "https://arweave.net/abc" {
		t.Errorf("unexpected symbol/uri: %q %q", m.Symbol, m.URI)
	}
	if m.SellerFeeBasisPoints != 500 {
		t.Errorf("expected 500 bps, got %d", m.SellerFeeBasisPoints)
	}
	if len(m.Creators) != 1 || m.Creators[0].Address != creator || !m.Creators[0].Verified || m.Creators[0].Share != 100 {
		t.Errorf("unexpected creators: %+v", m.Creators)
	}
	if !m.IsMutable || m.PrimarySaleHappened {
		t.Errorf("unexpected flags: mutable=%v primarySale=%v", m.IsMutable, m.PrimarySaleHappened)
	}
	if m.TokenStandard == nil || *m.TokenStandard != 2 {
		t.Errorf("unexpected token standard: %v", m.TokenStandard)
	}
	if m.EditionNonce != nil {
		t.Errorf("expected no edition nonce, got %d", *m.EditionNonce)
	}
}

func TestParseMetadata_NoCreatorsTruncatedTail(t *testing.T) {
	data := solanatest.MetadataAccount(solanatest.Metadata{
		Name:   "Legacy",
		Symbol: "OLD",
		URI:    "http://example.com",
	})
	// drop editionNonce and tokenStandard tags
	data = data[:len(data)-2]

	m, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if m.Creators != nil {
		t.Errorf("expected nil creators, got %+v", m.Creators)
	}
	if m.TokenStandard != nil {
		t.Error("expected missing token standard")
	}
}

func TestParseMetadata_Invalid(t *testing.T) {
	valid := solanatest.MetadataAccount(solanatest.Metadata{Name: "A", Symbol: "B", URI: "C"})

	wrongKey := append([]byte{}, valid...)
	wrongKey[0] = 6

	hugeString := append([]byte{}, valid[:65]...)
	hugeString = append(hugeString, 0xff, 0xff, 0xff, 0x7f)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong key", wrongKey},
		{"truncated header", valid[:40]},
		{"string length overflow", hugeString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMetadata(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
