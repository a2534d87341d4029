package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex hashes refresh tokens before they are stored.
func SHA256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
