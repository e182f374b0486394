// Package store persists verification records, chunks, sessions and audit
// logs in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/nocap/internal/cache"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a lookup has no result
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the database cannot be reached
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the SQLite-backed content store. It is safe for concurrent use.
type Store struct {
	conn    *sql.DB
	logger  *slog.Logger
	memo    cache.Cache
	memoTTL time.Duration
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMemo fronts FindCachedAnswer with an in-process cache
func WithMemo(c cache.Cache, ttl time.Duration) Option {
	return func(s *Store) {
		s.memo = c
		s.memoTTL = ttl
	}
}

// Open opens (creating if needed) the database at path and applies the schema
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps :memory: databases coherent
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s.conn = conn
	s.logger.Debug("store opened", slog.String("path", path))
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Stats holds per-table row counts
type Stats struct {
	Records       int            `json:"records"`
	Sessions      int            `json:"sessions"`
	DetectionLogs int            `json:"detection_logs"`
	Documents     int            `json:"documents"`
	Chunks        map[string]int `json:"chunks"` // Keyed by index name
}

// Stats returns row counts for every table
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Chunks: make(map[string]int)}

	counts := []struct {
		table string
		dst   *int
	}{
		{"verification_records", &st.Records},
		{"sessions", &st.Sessions},
		{"detection_logs", &st.DetectionLogs},
		{"documents", &st.Documents},
	}
	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT index_name, COUNT(*) FROM chunks GROUP BY index_name`)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		st.Chunks[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk counts: %w", err)
	}

	return st, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
