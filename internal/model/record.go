package model

import (
	"strings"
	"time"
)

// Verdict is the categorical judgment on a claim
type Verdict string

const (
	VerdictFake       Verdict = "FAKE"
	VerdictCredible   Verdict = "CREDIBLE"
	VerdictMisleading Verdict = "MISLEADING"
	VerdictUncertain  Verdict = "UNCERTAIN"
)

// ParseVerdict converts a stored verdict string, defaulting to UNCERTAIN
func ParseVerdict(s string) Verdict {
	switch Verdict(strings.ToUpper(strings.TrimSpace(s))) {
	case VerdictFake:
		return VerdictFake
	case VerdictCredible:
		return VerdictCredible
	case VerdictMisleading:
		return VerdictMisleading
	default:
		return VerdictUncertain
	}
}

// SourceType names the pipeline tier that produced a record
type SourceType string

const (
	SourceCache SourceType = "cache"
	SourceRAG   SourceType = "rag"
	SourceWeb   SourceType = "web"
)

// Valid reports whether the source type is one of the three tiers
func (s SourceType) Valid() bool {
	return s == SourceCache || s == SourceRAG || s == SourceWeb
}

// VerificationRecord is the immutable outcome of one completed verification
type VerificationRecord struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer_text"`
	Verdict    Verdict    `json:"verdict"`
	Confidence int        `json:"confidence"` // 0-100
	SourceType SourceType `json:"source_type"`
	Sources    []string   `json:"sources"`
	Degraded   bool       `json:"degraded,omitempty"` // Produced without a model answer; never served from cache
	CreatedAt  time.Time  `json:"timestamp"`
}

// ClampConfidence forces a confidence value into [0,100]
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Session tracks a client conversation
type Session struct {
	ID           string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Context      map[string]string `json:"context,omitempty"`
}

// DetectionLog is the audit entry written for web-tier verdicts
type DetectionLog struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Question   string    `json:"question"`
	Verdict    Verdict   `json:"verdict"`
	Confidence int       `json:"confidence"`
	Evidence   []string  `json:"evidence"`
	CreatedAt  time.Time `json:"timestamp"`
}
