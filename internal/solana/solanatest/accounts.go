// Package solanatest builds raw account data and RPC responses for tests.
package solanatest

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// Pubkey returns a deterministic 32-byte key filled with b, base58 encoded.
func Pubkey(b byte) string {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return base58.Encode(k)
}

// MintAccount encodes an 82-byte SPL mint account.
// Empty authority strings encode as COption::None.
func MintAccount(supply uint64, decimals uint8, mintAuthority, freezeAuthority string) []byte {
	data := make([]byte, 82)
	putCOption(data[0:36], mintAuthority)
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1
	putCOption(data[46:82], freezeAuthority)
	return data
}

func putCOption(dst []byte, key string) {
	if key == "" {
		return
	}
	binary.LittleEndian.PutUint32(dst[0:4], 1)
	copy(dst[4:36], mustDecode(key))
}

// Creator is a metadata creator entry.
type Creator struct {
	Address  string
	Verified bool
	Share    uint8
}

// Metadata describes a Metaplex metadata account to encode.
type Metadata struct {
	UpdateAuthority      string
	Mint                 string
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []Creator // nil encodes as None
	PrimarySaleHappened  bool
	IsMutable            bool
	TokenStandard        *uint8
	// PadTo zero-pads the account like on-chain fixed-size allocations.
	PadTo int
}

// MetadataAccount borsh-encodes a MetadataV1 account.
func MetadataAccount(m Metadata) []byte {
	buf := []byte{4}
	buf = append(buf, mustDecode(orDefault(m.UpdateAuthority, Pubkey(9)))...)
	buf = append(buf, mustDecode(orDefault(m.Mint, Pubkey(8)))...)
	buf = appendString(buf, m.Name)
	buf = appendString(buf, m.Symbol)
	buf = appendString(buf, m.URI)
	buf = binary.LittleEndian.AppendUint16(buf, m.SellerFeeBasisPoints)

	if m.Creators == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Creators)))
		for _, c := range m.Creators {
			buf = append(buf, mustDecode(c.Address)...)
			buf = append(buf, boolByte(c.Verified), c.Share)
		}
	}

	buf = append(buf, boolByte(m.PrimarySaleHappened), boolByte(m.IsMutable))
	buf = append(buf, 0) // editionNonce: None
	if m.TokenStandard != nil {
		buf = append(buf, 1, *m.TokenStandard)
	} else {
		buf = append(buf, 0)
	}

	for len(buf) < m.PadTo {
		buf = append(buf, 0)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func mustDecode(s string) []byte {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		panic("solanatest: invalid pubkey " + s)
	}
	return b
}
