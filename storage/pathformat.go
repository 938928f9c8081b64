package storage

import (
	"strings"
)

// checksumLen is the length of a hex-encoded SHA-256 digest.
const checksumLen = 64

// LegacyFallbackKey derives the checksum-sharded key used by the previous
// registry layout: "{first two hex chars}/{checksum}".
//
// The key must have at least three segments and its last segment must be a
// 64-character lowercase hex string. Any other shape yields ("", false).
func LegacyFallbackKey(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return "", false
	}

	checksum := parts[len(parts)-1]
	if !isLowerHex(checksum, checksumLen) {
		return "", false
	}

	return checksum[:2] + "/" + checksum, true
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
