package retrieval

import (
	"context"
	"time"

	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/storage"
)

const defaultLimit = 5

// ContextChunk is a textbook fragment selected for the prompt.
type ContextChunk struct {
	TextbookID string
	Title      string
	ChunkIndex int
	Page       int
	Text       string
}

// ChunkSource is the subset of the store the retriever reads from.
type ChunkSource interface {
	SubjectChunks(ctx context.Context, userID, subjectID string, limit int) ([]storage.SourcedChunk, error)
}

// Retriever returns the first chunks of a user's textbooks for a subject.
// Chunks come back in store order; there is no relevance ranking.
type Retriever struct {
	source  ChunkSource
	limit   int
	metrics *metrics.Recorder
}

// NewRetriever creates a Retriever. If limit <= 0, the default (5) is used.
func NewRetriever(source ChunkSource, limit int, rec *metrics.Recorder) *Retriever {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Retriever{source: source, limit: limit, metrics: rec}
}

// Retrieve returns at most the configured number of chunks. A user without
// textbooks gets an empty slice and no error.
func (r *Retriever) Retrieve(ctx context.Context, userID, subjectID string) ([]ContextChunk, error) {
	start := time.Now()
	defer r.metrics.Since("store.subject_chunks", start)

	rows, err := r.source.SubjectChunks(ctx, userID, subjectID, r.limit)
	if err != nil {
		return nil, err
	}
	chunks := make([]ContextChunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, ContextChunk{
			TextbookID: row.TextbookID,
			Title:      row.TextbookTitle,
			ChunkIndex: row.ChunkIndex,
			Page:       row.PageNumber,
			Text:       row.Content,
		})
	}
	return chunks, nil
}
