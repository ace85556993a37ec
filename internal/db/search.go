package db

import "github.com/kailas-cloud/ragtools/internal/domain"

// KNNQuery is the input for a vector similarity search.
type KNNQuery struct {
	Index       string
	VectorField string
	Vector      []float32
	K           int
	// ReturnFields limits the source fields in each entry; empty means all non-vector fields.
	ReturnFields []string
	// Metric lets the engine convert raw distances into similarity scores.
	Metric domain.Metric
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit, already scored as similarity (higher is closer).
type SearchEntry struct {
	ID     string
	Score  float64
	Fields map[string]string
}
