package llm

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures prompt size. The zero value estimates four
// characters per token, which is what offline deployments get.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. Loading may need network
// access to fetch the BPE ranks; on failure the estimator is used.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Debug("tiktoken unavailable, estimating tokens", slog.String("error", err.Error()))
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: enc}
}

// Count returns the number of tokens in text
func (t *TokenCounter) Count(text string) int {
	if t == nil || t.encoding == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text within maxTokens
func (t *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t == nil || t.encoding == nil {
		maxRunes := maxTokens * 4
		if utf8.RuneCountInString(text) <= maxRunes {
			return text
		}
		return string([]rune(text)[:maxRunes])
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}
