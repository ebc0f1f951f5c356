// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// CacheKey builds the RelevanceCache key from its constituent parts, joined
// by a separator that cannot appear in any of the normalized parts.
func CacheKey(namespace, intent, normalizedQuery string, topK int, channelMask uint8, weightProfileHash string) string {
	parts := namespace + "\x1f" + intent + "\x1f" + normalizedQuery + "\x1f" +
		strconv.Itoa(topK) + "\x1f" + strconv.Itoa(int(channelMask)) + "\x1f" + weightProfileHash
	return SHA256String(parts)
}
