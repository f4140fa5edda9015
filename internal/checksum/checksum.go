// Package checksum computes the cheap content identity used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies one version of a file's content.
type Fingerprint struct {
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Equal reports whether both size and hash match.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Size == o.Size && f.Hash == o.Hash
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Of returns the fingerprint of data.
func Of(data []byte) Fingerprint {
	return Fingerprint{Size: int64(len(data)), Hash: Sum(data)}
}

// Short returns the first n hex characters of the SHA-256 digest of s.
func Short(s string, n int) string {
	full := Sum([]byte(s))
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}
