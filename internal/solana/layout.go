package solana

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// MintAccountLen is the size of an SPL token mint account.
const MintAccountLen = 82

// metadataKeyV1 is the account discriminator of Metaplex MetadataV1.
const metadataKeyV1 = 4

// ErrShortAccount is returned when account data ends before a required field.
var ErrShortAccount = errors.New("account data too short")

// Mint is a decoded SPL token mint account.
type Mint struct {
	MintAuthority   *string
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *string
}

// ParseMint decodes an SPL token mint account.
// SPL Token Mint layout (82 bytes):
// - mintAuthority: COption<Pubkey> (4 + 32)
// - supply: u64
// - decimals: u8
// - isInitialized: bool
// - freezeAuthority: COption<Pubkey> (4 + 32)
func ParseMint(data []byte) (*Mint, error) {
	if len(data) < MintAccountLen {
		return nil, fmt.Errorf("mint: %w: %d bytes", ErrShortAccount, len(data))
	}

	return &Mint{
		MintAuthority:   cOptionPubkey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		IsInitialized:   data[45] == 1,
		FreezeAuthority: cOptionPubkey(data[46:82]),
	}, nil
}

func cOptionPubkey(b []byte) *string {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	s := base58.Encode(b[4:36])
	return &s
}

// Metadata is a decoded Metaplex token metadata account.
// String fields are returned as stored, including NUL padding.
type Metadata struct {
	UpdateAuthority      string
	Mint                 string
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []MetadataCreator
	PrimarySaleHappened  bool
	IsMutable            bool
	EditionNonce         *uint8
	TokenStandard        *uint8
}

// MetadataCreator is one entry of the creators list.
type MetadataCreator struct {
	Address  string
	Verified bool
	Share    uint8
}

// ParseMetadata decodes a Metaplex metadata account (borsh encoded).
// Layout:
// - key: u8 (4 for MetadataV1)
// - updateAuthority, mint: Pubkey
// - name, symbol, uri: String (u32 length + bytes)
// - sellerFeeBasisPoints: u16
// - creators: Option<Vec<{Pubkey, bool, u8}>>
// - primarySaleHappened, isMutable: bool
// - editionNonce, tokenStandard: Option<u8>
// Accounts written before a trailing field existed end early; missing
// trailing options decode as None.
func ParseMetadata(data []byte) (*Metadata, error) {
	r := &borshReader{buf: data}

	key, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("metadata key: %w", err)
	}
	if key != metadataKeyV1 {
		return nil, fmt.Errorf("metadata: unexpected account key %d", key)
	}

	m := &Metadata{}
	if m.UpdateAuthority, err = r.pubkey(); err != nil {
		return nil, fmt.Errorf("metadata update authority: %w", err)
	}
	if m.Mint, err = r.pubkey(); err != nil {
		return nil, fmt.Errorf("metadata mint: %w", err)
	}
	if m.Name, err = r.string(); err != nil {
		return nil, fmt.Errorf("metadata name: %w", err)
	}
	if m.Symbol, err = r.string(); err != nil {
		return nil, fmt.Errorf("metadata symbol: %w", err)
	}
	if m.URI, err = r.string(); err != nil {
		return nil, fmt.Errorf("metadata uri: %w", err)
	}
	if m.SellerFeeBasisPoints, err = r.u16(); err != nil {
		return nil, fmt.Errorf("metadata seller fee: %w", err)
	}

	hasCreators, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("metadata creators: %w", err)
	}
	if hasCreators == 1 {
		n, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("metadata creators: %w", err)
		}
		// each creator is 34 bytes
		if int(n) > r.remaining()/34 {
			return nil, fmt.Errorf("metadata creators: %w: %d entries", ErrShortAccount, n)
		}
		m.Creators = make([]MetadataCreator, 0, n)
		for i := uint32(0); i < n; i++ {
			var c MetadataCreator
			if c.Address, err = r.pubkey(); err != nil {
				return nil, fmt.Errorf("metadata creator %d: %w", i, err)
			}
			verified, _ := r.u8()
			c.Verified = verified == 1
			c.Share, _ = r.u8()
			m.Creators = append(m.Creators, c)
		}
	}

	if m.PrimarySaleHappened, err = r.bool(); err != nil {
		return nil, fmt.Errorf("metadata primary sale: %w", err)
	}
	if m.IsMutable, err = r.bool(); err != nil {
		return nil, fmt.Errorf("metadata is mutable: %w", err)
	}

	m.EditionNonce = r.optionU8()
	m.TokenStandard = r.optionU8()

	return m, nil
}

// borshReader reads little-endian borsh primitives.
type borshReader struct {
	buf []byte
	off int
}

func (r *borshReader) remaining() int { return len(r.buf) - r.off }

func (r *borshReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrShortAccount, n, r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *borshReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *borshReader) bool() (bool, error) {
	v, err := r.u8()
	return v == 1, err
}

func (r *borshReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *borshReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *borshReader) pubkey() (string, error) {
	b, err := r.take(pubkeyLen)
	if err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}

func (r *borshReader) string() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.remaining()) {
		return "", fmt.Errorf("%w: string of %d bytes", ErrShortAccount, n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// optionU8 returns nil for None or when the data has ended.
func (r *borshReader) optionU8() *uint8 {
	tag, err := r.u8()
	if err != nil || tag != 1 {
		return nil
	}
	v, err := r.u8()
	if err != nil {
		return nil
	}
	return &v
}
