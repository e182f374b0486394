package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ppiankov/nocap/internal/model"
)

// TouchSession creates the session if needed and bumps its last activity.
// A non-nil context replaces the stored one.
func (s *Store) TouchSession(ctx context.Context, sessionID string, sessionCtx map[string]string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}

	now := toUnix(s.now())

	var ctxJSON []byte
	if sessionCtx != nil {
		var err error
		if ctxJSON, err = json.Marshal(sessionCtx); err != nil {
			return fmt.Errorf("encode session context: %w", err)
		}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, last_activity, context)
		 VALUES (?, ?, ?, COALESCE(?, '{}'))
		 ON CONFLICT(session_id) DO UPDATE SET
		   last_activity = excluded.last_activity,
		   context = COALESCE(?, sessions.context)`,
		sessionID, now, now, nullableString(ctxJSON), nullableString(ctxJSON),
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetSession returns the session row
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var (
		sess                    model.Session
		createdAt, lastActivity int64
		ctxJSON                 string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT session_id, created_at, last_activity, context FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.ID, &createdAt, &lastActivity, &ctxJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.CreatedAt = fromUnix(createdAt)
	sess.LastActivity = fromUnix(lastActivity)
	if err := json.Unmarshal([]byte(ctxJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decode session context: %w", err)
	}
	return &sess, nil
}

// LogDetection appends a web-tier audit entry and returns its id
func (s *Store) LogDetection(ctx context.Context, entry *model.DetectionLog) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	evidence := entry.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO detection_logs (id, session_id, question, verdict, confidence, evidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SessionID,
		entry.Question,
		string(entry.Verdict),
		model.ClampConfidence(entry.Confidence),
		string(evidenceJSON),
		toUnix(entry.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert detection log: %w", err)
	}
	return entry.ID, nil
}

// RecentDetections returns the latest audit entries, most recent first
func (s *Store) RecentDetections(ctx context.Context, limit int) ([]model.DetectionLog, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session_id, question, verdict, confidence, evidence, created_at
		 FROM detection_logs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DetectionLog
	for rows.Next() {
		var (
			d            model.DetectionLog
			verdict      string
			evidenceJSON string
			createdAt    int64
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Question, &verdict, &d.Confidence, &evidenceJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.Verdict = model.ParseVerdict(verdict)
		d.CreatedAt = fromUnix(createdAt)
		if err := json.Unmarshal([]byte(evidenceJSON), &d.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return out, nil
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
