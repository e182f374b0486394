// Package vector holds the exact nearest-neighbour index used for retrieval.
// Positions are dense and assigned in insertion order; position i in an index
// names the chunk stored at (index, i) in the content store.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrPositionMismatch is returned when Add is called out of order
	ErrPositionMismatch = errors.New("vector position mismatch")

	// ErrDimensionMismatch is returned for vectors of the wrong length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorrupt is returned by Load when the file cannot be trusted
	ErrCorrupt = errors.New("vector index corrupt")
)

// Hit is one search result
type Hit struct {
	Position int     `json:"position"`
	Distance float64 `json:"distance"` // Squared L2
}

// FlatIndex is a brute-force squared-L2 index
type FlatIndex struct {
	mu        sync.RWMutex
	dimension int
	data      []float32 // Row-major, len = count*dimension
}

// NewFlatIndex creates an empty index
func NewFlatIndex(dimension int) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	return &FlatIndex{dimension: dimension}, nil
}

// Dimension returns the vector length accepted by the index
func (x *FlatIndex) Dimension() int {
	return x.dimension
}

// Len returns the number of stored vectors
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.lenLocked()
}

func (x *FlatIndex) lenLocked() int {
	return len(x.data) / x.dimension
}

// Add appends vec at position. position must equal Len().
func (x *FlatIndex) Add(vec []float32, position int) error {
	if len(vec) != x.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dimension)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if n := x.lenLocked(); position != n {
		return fmt.Errorf("%w: add at %d, next is %d", ErrPositionMismatch, position, n)
	}
	x.data = append(x.data, vec...)
	return nil
}

// Search returns up to k hits ordered by ascending distance, ties by position
func (x *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), x.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	n := x.lenLocked()
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		row := x.data[i*x.dimension : (i+1)*x.dimension]
		hits[i] = Hit{Position: i, Distance: squaredL2(row, query)}
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops every vector
func (x *FlatIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.data = nil
}

// Truncate drops every vector at or after position
func (x *FlatIndex) Truncate(position int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if position < 0 {
		position = 0
	}
	if position < x.lenLocked() {
		x.data = x.data[:position*x.dimension]
	}
}

// Vector returns a copy of the vector at position
func (x *FlatIndex) Vector(position int) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if position < 0 || position >= x.lenLocked() {
		return nil, false
	}
	out := make([]float32, x.dimension)
	copy(out, x.data[position*x.dimension:])
	return out, true
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
