// Package rag pairs the vector indices with the content store. Every vector
// at position p of an index has a chunk row at (index, p) in the store, and
// the store is authoritative when the two disagree.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/nocap/internal/chunk"
	"github.com/ppiankov/nocap/internal/embed"
	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/store"
	"github.com/ppiankov/nocap/internal/vector"
)

// ErrIndexCorruption is returned when an index hit has no matching chunk
var ErrIndexCorruption = errors.New("index corruption")

// ChunkStore is the subset of the content store the engine needs
type ChunkStore interface {
	SaveChunk(ctx context.Context, chunk *model.Chunk) (int, error)
	ChunksAt(ctx context.Context, index model.IndexName, positions []int) (map[int]*model.Chunk, error)
	CountChunks(ctx context.Context, index model.IndexName) (int, error)
	AllChunks(ctx context.Context, index model.IndexName) ([]model.Chunk, error)
	DeleteChunksFrom(ctx context.Context, index model.IndexName, position int) (int, error)
	DocumentExists(ctx context.Context, index model.IndexName, contentHash string) (bool, error)
	SaveDocument(ctx context.Context, index model.IndexName, contentHash, source string, chunks int) error
}

// Options configures an Engine
type Options struct {
	Dir       string // Directory holding <index>.index files
	Dimension int
	ChunkSize int
	Logger    *slog.Logger
}

// AddStatus describes the outcome of AddContent
type AddStatus string

const (
	StatusAdded     AddStatus = "added"
	StatusDuplicate AddStatus = "duplicate"
	StatusEmpty     AddStatus = "empty"
)

// AddResult reports what AddContent did
type AddResult struct {
	Status        AddStatus `json:"status"`
	Chunks        int       `json:"chunks"`
	FirstPosition int       `json:"first_position"`
	ContentHash   string    `json:"content_hash"`
}

// Engine is the retrieval engine
type Engine struct {
	opts     Options
	embedder embed.Embedder
	store    ChunkStore
	chunker  *chunk.Chunker
	logger   *slog.Logger

	writeMu sync.Mutex // Serialises store+index pair writes and rebuilds

	mu      sync.RWMutex
	indices map[model.IndexName]*vector.FlatIndex
	dirty   map[model.IndexName]bool
}

// Open loads both indices and reconciles them with the store
func Open(ctx context.Context, opts Options, embedder embed.Embedder, st ChunkStore) (*Engine, error) {
	if opts.Dimension <= 0 {
		opts.Dimension = embedder.Dimension()
	}
	if opts.Dimension != embedder.Dimension() {
		return nil, fmt.Errorf("index dimension %d does not match embedder dimension %d", opts.Dimension, embedder.Dimension())
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunk.DefaultMaxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		opts:     opts,
		embedder: embedder,
		store:    st,
		chunker:  chunk.New(opts.ChunkSize),
		logger:   opts.Logger,
		indices:  make(map[model.IndexName]*vector.FlatIndex),
		dirty:    make(map[model.IndexName]bool),
	}

	for _, name := range model.Indices() {
		if err := e.load(ctx, name); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) load(ctx context.Context, name model.IndexName) error {
	path := e.path(name)

	count, err := e.store.CountChunks(ctx, name)
	if err != nil {
		return fmt.Errorf("count %s chunks: %w", name, err)
	}

	idx, err := vector.Load(path, e.opts.Dimension)
	switch {
	case err == nil && idx.Len() == count:
		e.setIndex(name, idx)
		e.logger.Debug("index loaded", slog.String("index", string(name)), slog.Int("vectors", count))
		return nil
	case err == nil:
		e.logger.Warn("index out of step with store, rebuilding",
			slog.String("index", string(name)),
			slog.Int("vectors", idx.Len()),
			slog.Int("chunks", count),
		)
	case errors.Is(err, fs.ErrNotExist):
		if count > 0 {
			e.logger.Warn("index file missing, rebuilding", slog.String("index", string(name)))
		}
	case errors.Is(err, vector.ErrCorrupt):
		e.logger.Warn("index file corrupt, rebuilding",
			slog.String("index", string(name)),
			slog.String("error", err.Error()),
		)
	default:
		return fmt.Errorf("load %s index: %w", name, err)
	}

	return e.Rebuild(ctx, name)
}

// Rebuild reconstructs an index from the chunks in the store. Chunks without
// a usable stored embedding are re-embedded. A gap in stored positions
// truncates the store at the gap.
func (e *Engine) Rebuild(ctx context.Context, name model.IndexName) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()

	chunks, err := e.store.AllChunks(ctx, name)
	if err != nil {
		return fmt.Errorf("list %s chunks: %w", name, err)
	}

	for i, c := range chunks {
		if c.Position != i {
			e.logger.Warn("chunk positions have a gap, truncating store",
				slog.String("index", string(name)),
				slog.Int("expected", i),
				slog.Int("found", c.Position),
			)
			if _, err := e.store.DeleteChunksFrom(ctx, name, i); err != nil {
				return fmt.Errorf("truncate %s chunks: %w", name, err)
			}
			chunks = chunks[:i]
			break
		}
	}

	var (
		stale    []int
		contents []string
	)
	for i, c := range chunks {
		if len(c.Embedding) != e.opts.Dimension {
			stale = append(stale, i)
			contents = append(contents, c.Content)
		}
	}
	if len(stale) > 0 {
		vecs, err := e.embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return fmt.Errorf("re-embed %s chunks: %w", name, err)
		}
		for j, i := range stale {
			chunks[i].Embedding = vecs[j]
		}
	}

	idx, err := vector.NewFlatIndex(e.opts.Dimension)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		if err := idx.Add(c.Embedding, i); err != nil {
			return fmt.Errorf("rebuild %s index: %w", name, err)
		}
	}

	e.setIndex(name, idx)
	if err := idx.Save(e.path(name)); err != nil {
		return fmt.Errorf("save %s index: %w", name, err)
	}

	e.logger.Info("index rebuilt",
		slog.String("index", string(name)),
		slog.Int("vectors", idx.Len()),
		slog.Int("re_embedded", len(stale)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Retrieve returns up to topK chunks of one index nearest to query. The
// relevance gate is left to the caller.
func (e *Engine) Retrieve(ctx context.Context, name model.IndexName, query string, topK int) (model.RetrievalResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.retrieveVector(ctx, name, vec, topK, nil)
}

// RetrieveAll searches every index and merges the hits by distance
func (e *Engine) RetrieveAll(ctx context.Context, query string, topK int) (model.RetrievalResult, error) {
	return e.retrieveMerged(ctx, query, topK, nil)
}

// RetrieveFrom is RetrieveAll limited to chunks whose source is in sources.
// The filter applies before the topK cut, so nearer chunks of other sources
// never crowd out the requested ones.
func (e *Engine) RetrieveFrom(ctx context.Context, query string, topK int, sources []string) (model.RetrievalResult, error) {
	if len(sources) == 0 {
		return model.RetrievalResult{}, nil
	}
	allowed := make(map[string]bool, len(sources))
	for _, s := range sources {
		allowed[s] = true
	}
	return e.retrieveMerged(ctx, query, topK, func(c *model.Chunk) bool {
		return allowed[c.Source]
	})
}

func (e *Engine) retrieveMerged(ctx context.Context, query string, topK int, keep func(*model.Chunk) bool) (model.RetrievalResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var merged model.RetrievalResult
	for _, name := range model.Indices() {
		res, err := e.retrieveVector(ctx, name, vec, topK, keep)
		if err != nil {
			return nil, err
		}
		merged = append(merged, res...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func (e *Engine) retrieveVector(ctx context.Context, name model.IndexName, vec []float32, topK int, keep func(*model.Chunk) bool) (model.RetrievalResult, error) {
	res, err := e.resolve(ctx, name, vec, topK, keep)
	if !errors.Is(err, ErrIndexCorruption) {
		return res, err
	}

	e.logger.Warn("index hit without chunk, rebuilding", slog.String("index", string(name)), slog.String("error", err.Error()))
	if err := e.Rebuild(ctx, name); err != nil {
		return nil, err
	}
	return e.resolve(ctx, name, vec, topK, keep)
}

// resolve maps the nearest hits to their chunks. With a keep filter the
// whole ranking is walked, topK hits at a time, until topK chunks pass.
func (e *Engine) resolve(ctx context.Context, name model.IndexName, vec []float32, topK int, keep func(*model.Chunk) bool) (model.RetrievalResult, error) {
	if topK <= 0 {
		return model.RetrievalResult{}, nil
	}
	idx, err := e.index(name)
	if err != nil {
		return nil, err
	}

	k := topK
	if keep != nil {
		k = idx.Len()
	}
	hits, err := idx.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("search %s index: %w", name, err)
	}

	result := make(model.RetrievalResult, 0, min(topK, len(hits)))
	for start := 0; start < len(hits) && len(result) < topK; start += topK {
		page := hits[start:min(start+topK, len(hits))]

		positions := make([]int, len(page))
		for i, h := range page {
			positions[i] = h.Position
		}
		chunks, err := e.store.ChunksAt(ctx, name, positions)
		if err != nil {
			return nil, fmt.Errorf("resolve %s chunks: %w", name, err)
		}

		for _, h := range page {
			c, ok := chunks[h.Position]
			if !ok {
				return nil, fmt.Errorf("%w: %s position %d has no chunk", ErrIndexCorruption, name, h.Position)
			}
			if keep != nil && !keep(c) {
				continue
			}
			result = append(result, model.ScoredChunk{Chunk: *c, Distance: h.Distance})
			if len(result) == topK {
				break
			}
		}
	}
	return result, nil
}

// AddContent chunks, embeds and appends text to an index. A document whose
// content hash was already ingested into the same index is skipped.
func (e *Engine) AddContent(ctx context.Context, name model.IndexName, text, source string) (*AddResult, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("unknown index %q", name)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return &AddResult{Status: StatusEmpty}, nil
	}

	sum := sha256.Sum256([]byte(text))
	docHash := hex.EncodeToString(sum[:])

	exists, err := e.store.DocumentExists(ctx, name, docHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return &AddResult{Status: StatusDuplicate, ContentHash: docHash}, nil
	}

	pieces := e.chunker.Split(text)
	vecs, err := e.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Another writer may have ingested the same document while we embedded
	if exists, err := e.store.DocumentExists(ctx, name, docHash); err != nil {
		return nil, err
	} else if exists {
		return &AddResult{Status: StatusDuplicate, ContentHash: docHash}, nil
	}

	idx, err := e.index(name)
	if err != nil {
		return nil, err
	}
	base := idx.Len()

	for i, piece := range pieces {
		pieceHash := sha256.Sum256([]byte(piece))
		c := &model.Chunk{
			Index:       name,
			Position:    base + i,
			Content:     piece,
			ContentHash: hex.EncodeToString(pieceHash[:]),
			Source:      source,
			ChunkIndex:  i,
			Embedding:   vecs[i],
		}

		if _, err := e.store.SaveChunk(ctx, c); err != nil {
			e.rollback(ctx, name, idx, base)
			return nil, fmt.Errorf("save chunk: %w", err)
		}
		if err := idx.Add(vecs[i], c.Position); err != nil {
			e.rollback(ctx, name, idx, base)
			return nil, fmt.Errorf("index chunk: %w", err)
		}
	}

	// A document is only recorded once all its chunks are paired, so a
	// failed write leaves nothing behind for a retry to duplicate
	if err := e.store.SaveDocument(ctx, name, docHash, source, len(pieces)); err != nil {
		e.rollback(ctx, name, idx, base)
		return nil, fmt.Errorf("save document: %w", err)
	}

	e.markDirty(name)
	if err := e.flush(name); err != nil {
		e.logger.Warn("index flush failed", slog.String("index", string(name)), slog.String("error", err.Error()))
	}

	e.logger.Debug("content added",
		slog.String("index", string(name)),
		slog.String("source", source),
		slog.Int("chunks", len(pieces)),
	)

	return &AddResult{
		Status:        StatusAdded,
		Chunks:        len(pieces),
		FirstPosition: base,
		ContentHash:   docHash,
	}, nil
}

// rollback removes every chunk of a partially written document from the
// index and the store. Called with writeMu held.
func (e *Engine) rollback(ctx context.Context, name model.IndexName, idx *vector.FlatIndex, base int) {
	idx.Truncate(base)
	e.repair(ctx, name, idx)
}

// repair drops store rows beyond the index tail. Called with writeMu held.
func (e *Engine) repair(ctx context.Context, name model.IndexName, idx *vector.FlatIndex) {
	n, err := e.store.DeleteChunksFrom(context.WithoutCancel(ctx), name, idx.Len())
	if err != nil {
		e.logger.Error("store tail repair failed", slog.String("index", string(name)), slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		e.logger.Warn("store tail truncated", slog.String("index", string(name)), slog.Int("rows", n))
	}
}

// Flush writes every modified index to disk
func (e *Engine) Flush() error {
	var errs []error
	for _, name := range model.Indices() {
		if err := e.flush(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) flush(name model.IndexName) error {
	e.mu.Lock()
	dirty := e.dirty[name]
	idx := e.indices[name]
	e.dirty[name] = false
	e.mu.Unlock()

	if !dirty || idx == nil {
		return nil
	}
	if err := idx.Save(e.path(name)); err != nil {
		e.markDirty(name)
		return fmt.Errorf("save %s index: %w", name, err)
	}
	return nil
}

// Close flushes pending index writes
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.Flush()
}

// Stats returns the vector count per index
func (e *Engine) Stats() map[model.IndexName]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[model.IndexName]int, len(e.indices))
	for name, idx := range e.indices {
		out[name] = idx.Len()
	}
	return out
}

func (e *Engine) index(name model.IndexName) (*vector.FlatIndex, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indices[name]
	if !ok {
		return nil, fmt.Errorf("unknown index %q", name)
	}
	return idx, nil
}

func (e *Engine) setIndex(name model.IndexName, idx *vector.FlatIndex) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indices[name] = idx
	e.dirty[name] = false
}

func (e *Engine) markDirty(name model.IndexName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty[name] = true
}

func (e *Engine) path(name model.IndexName) string {
	return filepath.Join(e.opts.Dir, string(name)+".index")
}

var _ ChunkStore = (*store.Store)(nil)
