package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the SHA-256 digest of the full receipt content as a
// 64-character hex string. The whole input is hashed; receipts sharing a
// long common prefix must still map to distinct fingerprints.
func Sum(receipt []byte) string {
	digest := sha256.Sum256(receipt)
	return hex.EncodeToString(digest[:])
}

// SumString is a convenience wrapper for receipts carried as strings.
func SumString(receipt string) string {
	return Sum([]byte(receipt))
}
