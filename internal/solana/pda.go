package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	pubkeyLen    = 32
	maxSeedLen   = 32
	maxSeeds     = 16
	pdaMarker    = "ProgramDerivedAddress"
	metadataSeed = "metadata"
)

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// DecodePubkey decodes a base58 public key and checks its length.
func DecodePubkey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(b) != pubkeyLen {
		return nil, fmt.Errorf("pubkey %q: expected %d bytes, got %d", s, pubkeyLen, len(b))
	}
	return b, nil
}

// FindProgramAddress derives a program address and its bump seed.
// Bumps are tried from 255 downwards until the hash lies off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodePubkey(programID)
	if err != nil {
		return "", 0, err
	}
	if len(seeds) > maxSeeds-1 {
		return "", 0, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return "", 0, fmt.Errorf("seed exceeds %d bytes", maxSeedLen)
		}
	}

	for bump := 255; bump > 0; bump-- {
		hash := programAddressHash(seeds, uint8(bump), program)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, ErrNoViableBump
}

// MetadataPDA derives the Metaplex metadata account for a mint.
// Seeds: ["metadata", metadata program id, mint].
func MetadataPDA(mint string) (string, error) {
	mintBytes, err := DecodePubkey(mint)
	if err != nil {
		return "", err
	}
	programBytes, err := DecodePubkey(MetadataProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{
		[]byte(metadataSeed),
		programBytes,
		mintBytes,
	}, MetadataProgramID)
	if err != nil {
		return "", fmt.Errorf("derive metadata address: %w", err)
	}
	return addr, nil
}

func programAddressHash(seeds [][]byte, bump uint8, programID []byte) [32]byte {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(programID)
	h.Write([]byte(pdaMarker))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func isOnCurve(point []byte) bool {
	if len(point) != pubkeyLen {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
