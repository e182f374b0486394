package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/nocap/internal/cache"
	"github.com/ppiankov/nocap/internal/model"
)

// EquivalenceThreshold is the minimum token Jaccard similarity between two
// normalised questions for a stored answer to be reused
const EquivalenceThreshold = 0.9

const ftsCandidateLimit = 20

const recordColumns = `id, session_id, question, answer_text, verdict, confidence, source_type, sources, degraded, created_at`

// SaveVerificationRecord appends a record and returns its id. Records are
// never updated after insertion.
func (s *Store) SaveVerificationRecord(ctx context.Context, rec *model.VerificationRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("record is nil")
	}
	if !rec.SourceType.Valid() {
		return "", fmt.Errorf("invalid source type %q", rec.SourceType)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Confidence = model.ClampConfidence(rec.Confidence)

	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("encode sources: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO verification_records (
			id, session_id, question, question_norm, answer_text, verdict,
			confidence, source_type, sources, degraded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		rec.Question,
		cache.NormalizeQuestion(rec.Question),
		rec.Answer,
		string(rec.Verdict),
		rec.Confidence,
		string(rec.SourceType),
		string(sourcesJSON),
		rec.Degraded,
		toUnix(rec.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert verification record: %w", err)
	}

	if s.memo != nil && !rec.Degraded {
		s.remember(rec.Question, rec)
	}

	return rec.ID, nil
}

// FindCachedAnswer returns the most recent non-degraded record whose question
// is equivalent to question. Equivalence is exact match on normalised text,
// falling back to full-text candidates with token Jaccard similarity of at
// least EquivalenceThreshold. maxAge of zero disables the recency bound.
func (s *Store) FindCachedAnswer(ctx context.Context, question string, maxAge time.Duration) (*model.VerificationRecord, error) {
	norm := cache.NormalizeQuestion(question)
	if norm == "" {
		return nil, ErrNotFound
	}

	var since int64
	if maxAge > 0 {
		since = toUnix(s.now().Add(-maxAge))
	}

	if rec, ok := s.recall(question); ok && toUnix(rec.CreatedAt) >= since {
		return rec, nil
	}

	rec, err := s.findExact(ctx, norm, since)
	if errors.Is(err, ErrNotFound) {
		rec, err = s.findSimilar(ctx, norm, since)
	}
	if err != nil {
		return nil, err
	}

	if s.memo != nil {
		s.remember(question, rec)
	}
	return rec, nil
}

func (s *Store) findExact(ctx context.Context, norm string, since int64) (*model.VerificationRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+`
		 FROM verification_records
		 WHERE question_norm = ? AND degraded = 0 AND created_at >= ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		norm, since,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find exact answer: %w", err)
	}
	return rec, nil
}

func (s *Store) findSimilar(ctx context.Context, norm string, since int64) (*model.VerificationRecord, error) {
	query := ftsQuery(norm)
	if query == "" {
		return nil, ErrNotFound
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT r.id, r.session_id, r.question, r.answer_text, r.verdict, r.confidence,
		        r.source_type, r.sources, r.degraded, r.created_at, r.question_norm
		 FROM records_fts
		 JOIN verification_records r ON r.rowid = records_fts.rowid
		 WHERE records_fts MATCH ? AND r.degraded = 0 AND r.created_at >= ?
		 ORDER BY bm25(records_fts)
		 LIMIT ?`,
		query, since, ftsCandidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search similar questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	want := tokenSet(norm)

	var (
		best      *model.VerificationRecord
		bestScore float64
	)
	for rows.Next() {
		var candNorm string
		rec, err := scanRecordWith(rows, &candNorm)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		score := jaccard(want, tokenSet(candNorm))
		if score < EquivalenceThreshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && rec.CreatedAt.After(best.CreatedAt)) {
			best, bestScore = rec, score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	if best == nil {
		return nil, ErrNotFound
	}
	s.logger.Debug("cache matched equivalent question",
		slog.String("record_id", best.ID),
		slog.Float64("similarity", bestScore),
	)
	return best, nil
}

// FetchSessionHistory returns up to limit records of a session, most recent first
func (s *Store) FetchSessionHistory(ctx context.Context, sessionID string, limit int) ([]model.VerificationRecord, error) {
	if limit <= 0 {
		return []model.VerificationRecord{}, nil
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+recordColumns+`
		 FROM verification_records
		 WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := make([]model.VerificationRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		history = append(history, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return history, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.VerificationRecord, error) {
	return scanRecordWith(row)
}

func scanRecordWith(row scanner, extra ...any) (*model.VerificationRecord, error) {
	var (
		rec         model.VerificationRecord
		verdict     string
		sourceType  string
		sourcesJSON string
		createdAt   int64
	)

	dest := []any{
		&rec.ID,
		&rec.SessionID,
		&rec.Question,
		&rec.Answer,
		&verdict,
		&rec.Confidence,
		&sourceType,
		&sourcesJSON,
		&rec.Degraded,
		&createdAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Verdict = model.ParseVerdict(verdict)
	rec.SourceType = model.SourceType(sourceType)
	rec.CreatedAt = fromUnix(createdAt)
	if err := json.Unmarshal([]byte(sourcesJSON), &rec.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return &rec, nil
}

func (s *Store) recall(question string) (*model.VerificationRecord, bool) {
	if s.memo == nil {
		return nil, false
	}
	raw, ok := s.memo.Get(cache.QuestionKey(question))
	if !ok {
		return nil, false
	}
	var rec model.VerificationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = s.memo.Delete(cache.QuestionKey(question))
		return nil, false
	}
	return &rec, true
}

func (s *Store) remember(question string, rec *model.VerificationRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.memo.Set(cache.QuestionKey(question), raw, s.memoTTL); err != nil {
		s.logger.Warn("answer memo write failed", slog.String("error", err.Error()))
	}
}

// ftsQuery builds an OR query of quoted tokens so user text cannot inject
// FTS5 syntax
func ftsQuery(norm string) string {
	tokens := strings.Fields(norm)
	quoted := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func tokenSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(norm) {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
