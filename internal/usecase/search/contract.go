package search

import (
	"context"

	"github.com/kailas-cloud/ragtools/internal/db"
)

// Engine runs k-NN queries against the search backend.
type Engine interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}
