package verify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/nocap/internal/model"
)

var (
	verdictLine = regexp.MustCompile(`(?im)^[\s*#>-]*verdict\b\s*[:=-]?(.*)$`)

	// Checked in priority order; the first that matches wins
	verdictPatterns = []struct {
		verdict model.Verdict
		re      *regexp.Regexp
	}{
		{model.VerdictFake, regexp.MustCompile(`(?i)\bfake\b`)},
		{model.VerdictCredible, regexp.MustCompile(`(?i)\b(?:credible|true)\b`)},
		{model.VerdictMisleading, regexp.MustCompile(`(?i)\bmisleading\b`)},
	}

	confidencePattern = regexp.MustCompile(`(?i)(?:confidence|credibility score)\s*[:=]?\s*(\d{1,3})\s*%?`)
)

// ExtractVerdict finds the verdict in a model answer. When the answer has a
// non-empty "VERDICT:" line only that line is considered, otherwise the whole
// text is. FAKE beats CREDIBLE/TRUE, which beats MISLEADING. No match yields
// UNCERTAIN.
func ExtractVerdict(answer string) model.Verdict {
	scope := answer
	if m := verdictLine.FindStringSubmatch(answer); m != nil && strings.TrimSpace(m[1]) != "" {
		scope = m[1]
	}
	if v, ok := matchVerdict(scope); ok {
		return v
	}
	return model.VerdictUncertain
}

func matchVerdict(text string) (model.Verdict, bool) {
	for _, p := range verdictPatterns {
		if p.re.MatchString(text) {
			return p.verdict, true
		}
	}
	return "", false
}

// ExtractConfidence returns the first stated confidence, clamped to 0-100
func ExtractConfidence(answer string) (int, bool) {
	m := confidencePattern.FindStringSubmatch(answer)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return 0, false
	}
	return model.ClampConfidence(n), true
}

// DefaultConfidence is used when the model states no confidence
func DefaultConfidence(tier model.SourceType, evidence int) int {
	if evidence < 0 {
		evidence = 0
	}
	switch tier {
	case model.SourceCache:
		return 95
	case model.SourceRAG:
		return min(70+5*evidence, 85)
	case model.SourceWeb:
		return min(60+5*evidence, 80)
	default:
		return 50
	}
}
