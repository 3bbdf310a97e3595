package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTokenKey computes the deterministic identity of a token record.
// Formula: SHA256(mint|tx_signature)
// Returns hex-encoded hash (64 characters). Re-processing the same
// transaction yields the same key, so persistence is an upsert.
func ComputeTokenKey(mint, txSignature string) string {
	data := fmt.Sprintf("%s|%s", mint, txSignature)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
