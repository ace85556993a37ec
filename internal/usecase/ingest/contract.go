package ingest

import (
	"context"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
)

// Embedder vectorizes one record.
type Embedder interface {
	Embed(ctx context.Context, q domain.Query) ([]float32, error)
}

// Store creates the collection index and writes documents as hashes.
type Store interface {
	db.IndexManager
	db.HashWriter
}
