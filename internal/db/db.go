package db

import (
	"context"
	"time"
)

// Store is the search engine facade the tool layer depends on.
type Store interface {
	Pinger
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks engine connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher runs k-NN similarity queries.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}

// IndexManager provides index lifecycle operations used during ingest.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// HashSetItem holds a single key+fields pair for pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashWriter writes documents stored as hashes.
type HashWriter interface {
	HSetMulti(ctx context.Context, items []HashSetItem) error
}

// KVStore stores opaque values with an optional expiry. A zero ttl means no expiry.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
