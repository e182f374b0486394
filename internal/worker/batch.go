package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/nocap/internal/model"
)

// Verifier verifies a single claim
type Verifier interface {
	VerifyClaim(ctx context.Context, query model.ClaimQuery) (*model.VerificationRecord, error)
}

// ClaimJob verifies one claim of a batch
type ClaimJob struct {
	Index    int
	Query    model.ClaimQuery
	Verifier Verifier
}

// Execute runs the verification
func (j *ClaimJob) Execute(ctx context.Context) Result {
	start := time.Now()
	rec, err := j.Verifier.VerifyClaim(ctx, j.Query)
	return &ClaimResult{
		Index:    j.Index,
		Claim:    j.Query.Text,
		Record:   rec,
		Error:    err,
		Duration: time.Since(start),
	}
}

// ClaimResult is the outcome of a ClaimJob
type ClaimResult struct {
	Index    int                       `json:"index"`
	Claim    string                    `json:"claim"`
	Record   *model.VerificationRecord `json:"record,omitempty"`
	Error    error                     `json:"-"`
	Duration time.Duration             `json:"duration"`
}

// GetError returns the verification error
func (r *ClaimResult) GetError() error {
	return r.Error
}

// BatchProcessor verifies many claims concurrently
type BatchProcessor struct {
	verifier    Verifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(verifier Verifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// ProcessClaims verifies claims concurrently and returns results in input
// order. Every claim in the batch shares sessionID.
func (b *BatchProcessor) ProcessClaims(ctx context.Context, claims []string, sessionID string) []*ClaimResult {
	if len(claims) == 0 {
		return []*ClaimResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, claim := range claims {
		pool.Submit(&ClaimJob{
			Index:    i,
			Query:    model.ClaimQuery{Text: claim, SessionID: sessionID},
			Verifier: b.verifier,
		})
	}

	results := pool.Wait()

	claimResults := make([]*ClaimResult, len(results))
	for i, result := range results {
		claimResults[i] = result.(*ClaimResult)
	}
	sort.Slice(claimResults, func(i, j int) bool {
		return claimResults[i].Index < claimResults[j].Index
	})

	return claimResults
}

// ProcessFile reads claims from a file and verifies them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath, sessionID string) ([]*ClaimResult, error) {
	claims, err := ReadClaimsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read claims: %w", err)
	}

	return b.ProcessClaims(ctx, claims, sessionID), nil
}

// ReadClaimsFromFile reads claims from a file, one per line. Blank lines and
// lines starting with '#' are skipped; repeated claims are kept once.
func ReadClaimsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var claims []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			claims = append(claims, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return claims, nil
}
