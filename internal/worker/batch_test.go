package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ppiankov/nocap/internal/model"
)

// MockVerifier implements Verifier
type MockVerifier struct {
	mu      sync.Mutex
	calls   []model.ClaimQuery
	failFor string
}

func (m *MockVerifier) VerifyClaim(ctx context.Context, q model.ClaimQuery) (*model.VerificationRecord, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	m.mu.Unlock()

	if q.Text == m.failFor {
		return nil, errors.New("verification failed")
	}
	return &model.VerificationRecord{
		SessionID:  q.SessionID,
		Question:   q.Text,
		Verdict:    model.VerdictCredible,
		Confidence: 80,
		SourceType: model.SourceRAG,
	}, nil
}

func TestBatchProcessor_ProcessClaims(t *testing.T) {
	verifier := &MockVerifier{}
	processor := NewBatchProcessor(verifier, 3)

	claims := []string{"claim one", "claim two", "claim three", "claim four", "claim five"}
	results := processor.ProcessClaims(context.Background(), claims, "batch-session")

	if len(results) != len(claims) {
		t.Fatalf("Expected %d results, got %d", len(claims), len(results))
	}

	for i, res := range results {
		if res.Index != i {
			t.Errorf("Expected results in input order, got index %d at %d", res.Index, i)
		}
		if res.Claim != claims[i] {
			t.Errorf("Expected claim %q, got %q", claims[i], res.Claim)
		}
		if res.Error != nil {
			t.Errorf("Unexpected error for %q: %v", res.Claim, res.Error)
		}
		if res.Record.SessionID != "batch-session" {
			t.Errorf("Expected shared session id, got %q", res.Record.SessionID)
		}
	}
}

func TestBatchProcessor_ProcessClaims_Error(t *testing.T) {
	verifier := &MockVerifier{failFor: "bad claim"}
	processor := NewBatchProcessor(verifier, 2)

	results := processor.ProcessClaims(context.Background(), []string{"good claim", "bad claim"}, "")

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].GetError() != nil {
		t.Errorf("Expected no error for first claim, got %v", results[0].GetError())
	}
	if results[1].GetError() == nil {
		t.Error("Expected error for second claim")
	}
	if results[1].Record != nil {
		t.Error("Expected no record for failed claim")
	}
}

func TestBatchProcessor_ProcessClaims_Empty(t *testing.T) {
	processor := NewBatchProcessor(&MockVerifier{}, 2)

	results := processor.ProcessClaims(context.Background(), nil, "")
	if len(results) != 0 {
		t.Errorf("Expected 0 results, got %d", len(results))
	}
}

func TestReadClaimsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.txt")
	content := `# claims to check
The moon landing was faked

Vaccines cause autism
  The moon landing was faked  
# trailing comment
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	claims, err := ReadClaimsFromFile(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := []string{"The moon landing was faked", "Vaccines cause autism"}
	if len(claims) != len(expected) {
		t.Fatalf("Expected %d claims, got %d: %v", len(expected), len(claims), claims)
	}
	for i, c := range expected {
		if claims[i] != c {
			t.Errorf("Expected claim %d to be %q, got %q", i, c, claims[i])
		}
	}
}

func TestReadClaimsFromFile_NonExistent(t *testing.T) {
	_, err := ReadClaimsFromFile("/nonexistent/claims.txt")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.txt")
	if err := os.WriteFile(path, []byte("claim a\nclaim b\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	verifier := &MockVerifier{}
	results, err := NewBatchProcessor(verifier, 2).ProcessFile(context.Background(), path, "s")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
	if len(verifier.calls) != 2 {
		t.Errorf("Expected 2 verifier calls, got %d", len(verifier.calls))
	}
}

func TestBatchProcessor_ProcessFile_NonExistent(t *testing.T) {
	_, err := NewBatchProcessor(&MockVerifier{}, 2).ProcessFile(context.Background(), "/nonexistent/file.txt", "")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}
