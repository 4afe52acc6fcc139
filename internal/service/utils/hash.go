package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns the hex sha256 of data.
func ComputeHash(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

