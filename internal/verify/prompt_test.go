package verify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/nocap/internal/llm"
	"github.com/ppiankov/nocap/internal/model"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestBuildContext(t *testing.T) {
	result := model.RetrievalResult{
		chunkAt("https://a.example", "first", 1),
		chunkAt("https://b.example", "second", 2),
		chunkAt("https://a.example", "third", 3),
		chunkAt("https://a.example", "first", 4), // same hash as the first chunk
	}
	extra := []evidenceDoc{{source: "https://c.example", text: "snippet"}}

	got := buildContext(result, extra, nil, 0)
	assert.Equal(t, "[1] https://a.example\nfirst third\n\n[2] https://b.example\nsecond\n\n[3] https://c.example\nsnippet", got)

	assert.Empty(t, buildContext(nil, nil, nil, 0))
}

func TestBuildContext_TokenBudget(t *testing.T) {
	result := model.RetrievalResult{chunkAt("s", strings.Repeat("word ", 200), 1)}
	got := buildContext(result, nil, &llm.TokenCounter{}, 10)
	assert.Equal(t, 40, len([]rune(got)))
}

func TestBuildPrompt(t *testing.T) {
	history := []model.VerificationRecord{
		{Question: "newer claim", Verdict: model.VerdictCredible, Confidence: 80},
		{Question: "older claim", Verdict: model.VerdictFake, Confidence: 90},
	}
	p := buildPrompt("the claim", "[1] src\ntext", history)

	assert.Less(t, strings.Index(p, "older claim"), strings.Index(p, "newer claim"))
	assert.Contains(t, p, "Verdict: FAKE (confidence 90)")
	assert.Contains(t, p, "Evidence:\n[1] src\ntext")
	assert.True(t, strings.HasSuffix(p, "Claim: the claim\n"))

	bare := buildPrompt("the claim", "", nil)
	assert.NotContains(t, bare, "Earlier in this conversation")
	assert.Contains(t, bare, noEvidence)
}
