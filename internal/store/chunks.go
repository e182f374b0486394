package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/nocap/internal/model"
)

const chunkColumns = `index_name, position, content, content_hash, source, chunk_index, embedding, created_at`

// SaveChunk stores chunk at its Position. The (index, position) pair is
// unique; inserting over an occupied position fails.
func (s *Store) SaveChunk(ctx context.Context, chunk *model.Chunk) (int, error) {
	if !chunk.Index.Valid() {
		return 0, fmt.Errorf("invalid index name %q", chunk.Index)
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = s.now()
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(chunk.Index),
		chunk.Position,
		chunk.Content,
		chunk.ContentHash,
		chunk.Source,
		chunk.ChunkIndex,
		encodeVector(chunk.Embedding),
		toUnix(chunk.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert chunk %s/%d: %w", chunk.Index, chunk.Position, err)
	}
	return chunk.Position, nil
}

// ChunkAt returns the chunk stored at (index, position)
func (s *Store) ChunkAt(ctx context.Context, index model.IndexName, position int) (*model.Chunk, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE index_name = ? AND position = ?`,
		string(index), position,
	)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s/%d: %w", index, position, err)
	}
	return c, nil
}

// ChunksAt resolves several positions at once. Missing positions are absent
// from the returned map.
func (s *Store) ChunksAt(ctx context.Context, index model.IndexName, positions []int) (map[int]*model.Chunk, error) {
	out := make(map[int]*model.Chunk, len(positions))
	if len(positions) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(positions)+1)
	args = append(args, string(index))
	for _, p := range positions {
		args = append(args, p)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(positions)), ",")

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE index_name = ? AND position IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out[c.Position] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// CountChunks returns the number of chunks stored for index
func (s *Store) CountChunks(ctx context.Context, index model.IndexName) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE index_name = ?`, string(index),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// AllChunks returns every chunk of index ordered by position
func (s *Store) AllChunks(ctx context.Context, index model.IndexName) ([]model.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE index_name = ? ORDER BY position`,
		string(index),
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunksFrom removes every chunk of index at or after position
func (s *Store) DeleteChunksFrom(ctx context.Context, index model.IndexName, position int) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM chunks WHERE index_name = ? AND position >= ?`,
		string(index), position,
	)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DocumentExists reports whether a document with this content hash was
// already ingested into index
func (s *Store) DocumentExists(ctx context.Context, index model.IndexName, contentHash string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE index_name = ? AND content_hash = ?`,
		string(index), contentHash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	return true, nil
}

// SaveDocument records an ingested document
func (s *Store) SaveDocument(ctx context.Context, index model.IndexName, contentHash, source string, chunks int) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (index_name, content_hash, source, chunks, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(index), contentHash, source, chunks, toUnix(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func scanChunk(row scanner) (*model.Chunk, error) {
	var (
		c         model.Chunk
		index     string
		embedding []byte
		createdAt int64
	)
	if err := row.Scan(
		&index,
		&c.Position,
		&c.Content,
		&c.ContentHash,
		&c.Source,
		&c.ChunkIndex,
		&embedding,
		&createdAt,
	); err != nil {
		return nil, err
	}

	c.Index = model.IndexName(index)
	c.CreatedAt = fromUnix(createdAt)
	vec, err := decodeVector(embedding)
	if err != nil {
		return nil, err
	}
	c.Embedding = vec
	return &c, nil
}

func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	out := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
