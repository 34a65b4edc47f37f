// Package retrieval implements the vocabulary index: a pgvector-backed
// nearest-neighbour search over topic documents, its schema, and the
// loader that populates it.
package retrieval

import (
	"context"
	"strings"

	"vocab-agent/internal/domain"
)

// Search modes.
const (
	SearchSimilarity = "similarity"
	SearchMMR        = "mmr"
)

// Retriever returns at most k documents relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Document, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// JoinDocuments concatenates document texts in the order given, one per line.
func JoinDocuments(docs []domain.Document) string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return strings.Join(texts, "\n")
}
