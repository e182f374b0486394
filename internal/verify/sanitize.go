package verify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/nocap/internal/extract"
)

// Sanitize strips markup and control characters from a claim and collapses
// whitespace. Empty or over-long claims are rejected, never truncated.
func Sanitize(text string, maxLen int) (string, error) {
	text = extract.StripTags(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")

	if text == "" {
		return "", invalidInput("claim is empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", invalidInput("claim exceeds maximum length")
	}
	return text, nil
}

func invalidInput(msg string) error {
	return stageError(ErrInvalidInput, nil, msg, StateFailed, "")
}
