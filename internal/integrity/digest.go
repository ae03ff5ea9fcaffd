package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// HashLength is the length of a hex-encoded digest.
const HashLength = sha256.Size * 2

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through SHA-256 and returns the digest and byte count.
func DigestReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// Verify recomputes the digest of data and compares it to expected. Malformed
// expected values simply fail the comparison.
func Verify(data []byte, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if !ValidHash(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(data)), []byte(expected)) == 1
}

// ValidHash reports whether s looks like a digest produced by Digest.
func ValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
