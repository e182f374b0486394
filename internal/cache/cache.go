package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// PageKey generates a cache key for a fetched page
func PageKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "nocap:page:v1:" + hex.EncodeToString(hash[:])
}

// QuestionKey generates a cache key for an answered question. Questions that
// normalise to the same text share a key.
func QuestionKey(question string) string {
	hash := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return "nocap:answer:v1:" + hex.EncodeToString(hash[:])
}

// NormalizeQuestion lowercases, drops punctuation and collapses whitespace
func NormalizeQuestion(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	space := false
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
