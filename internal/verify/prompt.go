package verify

import (
	"fmt"
	"strings"

	"github.com/ppiankov/nocap/internal/llm"
	"github.com/ppiankov/nocap/internal/model"
)

const noEvidence = "No evidence found. No indexed or web source addressed this claim."

const systemPrompt = `You are an expert fact-checker. Judge the claim only against the evidence provided and say so when the evidence is insufficient.

Rules:
1. Cite only sources that appear in the evidence.
2. If the evidence does not address the claim, answer UNCERTAIN.
3. Be concise.

Format your response exactly as:

VERDICT: FAKE, MISLEADING, CREDIBLE or UNCERTAIN
CONFIDENCE: 0-100
EXPLANATION: at most three sentences
EVIDENCE:
- source and the point it supports`

// evidenceBlock is the text one source contributes to the context
type evidenceBlock struct {
	source string
	parts  []string
}

// buildContext concatenates retrieved chunks most relevant first, grouping
// chunks of the same source under one heading. Extra documents (search
// snippets that were not indexed) follow. The result is cut to budget tokens.
func buildContext(result model.RetrievalResult, extra []evidenceDoc, tokens *llm.TokenCounter, budget int) string {
	var blocks []*evidenceBlock
	bySource := make(map[string]*evidenceBlock)
	seenHash := make(map[string]bool)

	add := func(source, text, hash string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if hash != "" {
			if seenHash[hash] {
				return
			}
			seenHash[hash] = true
		}
		b, ok := bySource[source]
		if !ok {
			b = &evidenceBlock{source: source}
			bySource[source] = b
			blocks = append(blocks, b)
		}
		b.parts = append(b.parts, text)
	}

	for _, sc := range result {
		add(sc.Chunk.Source, sc.Chunk.Content, sc.Chunk.ContentHash)
	}
	for _, d := range extra {
		add(d.source, d.text, "")
	}

	if len(blocks) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		source := b.source
		if source == "" {
			source = "unknown source"
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, source, strings.Join(b.parts, " "))
	}

	if budget > 0 {
		return tokens.Truncate(sb.String(), budget)
	}
	return sb.String()
}

// evidenceDoc is text that reaches the context without passing the index
type evidenceDoc struct {
	source string
	text   string
}

// buildPrompt assembles the user turn: prior turns of the session, the
// evidence and the claim
func buildPrompt(claim, evidence string, history []model.VerificationRecord) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("Earlier in this conversation:\n")
		// History arrives most recent first; present it in order
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			fmt.Fprintf(&sb, "- Claim: %s\n  Verdict: %s (confidence %d)\n", h.Question, h.Verdict, h.Confidence)
		}
		sb.WriteString("\n")
	}

	if evidence == "" {
		evidence = noEvidence
	}
	sb.WriteString("Evidence:\n")
	sb.WriteString(evidence)
	sb.WriteString("\n\nClaim: ")
	sb.WriteString(claim)
	sb.WriteString("\n")

	return sb.String()
}
