package search

import (
	"context"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Embedder vectorizes keywords for per-keyword KNN queries.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Querier answers a single keyword's vector query.
type Querier interface {
	Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]domain.Hit, error)
}
