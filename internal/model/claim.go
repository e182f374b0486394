package model

// ClaimQuery is a single verification request as it enters the pipeline
type ClaimQuery struct {
	Text      string `json:"question"`             // Raw claim text (free text, article excerpt or OCR output)
	SourceURL string `json:"source_url,omitempty"` // Optional article the claim was taken from
	SessionID string `json:"session_id,omitempty"` // Client-generated session identifier
}

// IndexName selects one of the logical vector indices
type IndexName string

const (
	IndexWeb      IndexName = "web"      // Content gathered from web search and scraped articles
	IndexDocument IndexName = "document" // User-supplied reference documents
)

// Valid reports whether the index name is one of the known indices
func (n IndexName) Valid() bool {
	return n == IndexWeb || n == IndexDocument
}

// Indices lists all logical indices in a stable order
func Indices() []IndexName {
	return []IndexName{IndexWeb, IndexDocument}
}
