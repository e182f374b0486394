package model

import "time"

// Chunk is the unit of indexed knowledge. Position addresses the matching
// vector in the index of the same name.
type Chunk struct {
	Index       IndexName `json:"index"`
	Position    int       `json:"position"`            // Vector index position
	Content     string    `json:"content"`             // Chunk text
	ContentHash string    `json:"content_hash"`        // Hex SHA-256 of Content
	Source      string    `json:"source"`              // Source URL or document name
	ChunkIndex  int       `json:"chunk_index"`         // Position of the chunk within its source document
	Embedding   []float32 `json:"embedding,omitempty"` // Vector stored alongside the chunk for index rebuilds
	CreatedAt   time.Time `json:"created_at"`
}

// ScoredChunk is a chunk paired with its distance to a query
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"` // Squared L2 distance, lower is closer
}

// RetrievalResult is an ordered list of chunks, best (lowest distance) first
type RetrievalResult []ScoredChunk

// BestDistance returns the lowest distance in the result and false when empty
func (r RetrievalResult) BestDistance() (float64, bool) {
	if len(r) == 0 {
		return 0, false
	}
	return r[0].Distance, true
}

// Sources returns the distinct chunk sources in ranking order
func (r RetrievalResult) Sources() []string {
	seen := make(map[string]bool)
	var sources []string
	for _, sc := range r {
		if sc.Chunk.Source == "" || seen[sc.Chunk.Source] {
			continue
		}
		seen[sc.Chunk.Source] = true
		sources = append(sources, sc.Chunk.Source)
	}
	return sources
}

// WebResult is one hit returned by a web search
type WebResult struct {
	URL       string        `json:"url"`
	Title     string        `json:"title"`
	Snippet   string        `json:"snippet"`
	Authority AuthorityTier `json:"authority"` // Source authority classification
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Government, academic and official sources
	TierSecondary AuthorityTier = 2 // Wire services, major publishers, fact-checkers
	TierTertiary  AuthorityTier = 3 // Blogs, forums, everything else
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}
