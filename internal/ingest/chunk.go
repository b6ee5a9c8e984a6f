package ingest

import (
	"fmt"
	"strings"
)

const (
	ChunkSize     = 1000
	ChunkOverlap  = 200
	MinChunkLen   = 100
	chunksPerPage = 3
	sampleLength  = 5000
)

// Piece is one chunk of extracted text before it is stored.
type Piece struct {
	Index   int
	Offset  int
	Page    int
	Content string
}

// Chunk splits text into ChunkSize windows stepping by ChunkSize-ChunkOverlap.
// Windows whose trimmed length is under MinChunkLen are dropped; the rest are
// indexed sequentially with an estimated page number. Splitting stops at the
// first window that reaches the end of text.
func Chunk(text string) []Piece {
	var pieces []Piece
	step := ChunkSize - ChunkOverlap
	for i := 0; i < len(text); i += step {
		end := min(i+ChunkSize, len(text))
		window := text[i:end]
		if len(strings.TrimSpace(window)) >= MinChunkLen {
			idx := len(pieces)
			pieces = append(pieces, Piece{Index: idx, Offset: i, Page: idx/chunksPerPage + 1, Content: window})
		}
		// The window reached the end; a further one would be a subset of it.
		if end == len(text) {
			break
		}
	}
	return pieces
}

// Placeholder is stored instead of text that is too short to be useful.
func Placeholder(title string) string {
	return fmt.Sprintf("This is a textbook titled \"%s\". The content is stored and ready for learning. Please ask specific questions about topics you'd like to learn, and I'll help explain them based on this textbook.", title)
}

// Sample returns the first sampleLength bytes of text.
func Sample(text string) string {
	if len(text) > sampleLength {
		return text[:sampleLength]
	}
	return text
}
