package tool

import (
	"context"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// Embedder turns a query into a vector for one collection.
type Embedder interface {
	Embed(ctx context.Context, q domain.Query) ([]float32, error)
}

// Searcher runs one k-NN search against a collection.
type Searcher interface {
	Search(ctx context.Context, col *domain.Collection, vector []float32, k int, fields []string) ([]domain.Hit, error)
}

// WebSearcher queries a web search provider.
type WebSearcher interface {
	Search(ctx context.Context, query string, n int) ([]domain.WebResult, error)
}
