package chunk

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxSize is the reference chunk bound in code points
const DefaultMaxSize = 400

// defaultSeparators are tried in order, coarsest first
var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into bounded segments. Segments never overlap and
// concatenating them reproduces the input exactly.
type Chunker struct {
	maxSize    int
	separators []string
}

// New creates a chunker with the given maximum segment length in code points
func New(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Chunker{
		maxSize:    maxSize,
		separators: defaultSeparators,
	}
}

// MaxSize returns the segment bound
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Split cuts text into segments of at most MaxSize code points, preferring
// paragraph, line, sentence and word boundaries, and falling back to a hard
// cut when a single token is longer than the bound.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return []string{}
	}
	return c.split(text, c.separators)
}

// Chunk is a convenience wrapper matching chunk(text, max_chunk_size)
func Chunk(text string, maxSize int) []string {
	return New(maxSize).Split(text)
}

func (c *Chunker) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= c.maxSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardCut(text, c.maxSize)
	}

	sep, rest := separators[0], separators[1:]
	pieces := splitKeep(text, sep)
	if len(pieces) == 1 {
		return c.split(text, rest)
	}

	// Oversized pieces are refined with the finer separators before packing
	var atoms []string
	for _, p := range pieces {
		if utf8.RuneCountInString(p) > c.maxSize {
			atoms = append(atoms, c.split(p, rest)...)
			continue
		}
		atoms = append(atoms, p)
	}

	return c.pack(atoms)
}

// pack greedily merges consecutive atoms while the result fits
func (c *Chunker) pack(atoms []string) []string {
	var (
		out     []string
		current strings.Builder
		size    int
	)

	for _, a := range atoms {
		n := utf8.RuneCountInString(a)
		if size > 0 && size+n > c.maxSize {
			out = append(out, current.String())
			current.Reset()
			size = 0
		}
		current.WriteString(a)
		size += n
	}
	if size > 0 {
		out = append(out, current.String())
	}

	return out
}

// splitKeep splits on sep and keeps the separator attached to the left piece
func splitKeep(text, sep string) []string {
	var pieces []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			break
		}
		end := idx + len(sep)
		pieces = append(pieces, text[:end])
		text = text[end:]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// hardCut slices text every maxSize code points
func hardCut(text string, maxSize int) []string {
	var out []string
	for text != "" {
		count := 0
		end := len(text)
		for i := range text {
			if count == maxSize {
				end = i
				break
			}
			count++
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}
