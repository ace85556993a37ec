package domain

import "context"

// EmbeddingBackend is a remote model that turns content into a vector.
type EmbeddingBackend interface {
	Embed(ctx context.Context, q Query) (EmbeddingResult, error)
	// Dimensions is the fixed output dimension, or 0 if the backend does not declare one.
	Dimensions() int
	// Supports reports whether the backend accepts the given modality.
	Supports(m Modality) bool
	// UnitLength reports whether the backend guarantees unit-normalized output.
	UnitLength() bool
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the raw vector and token usage from a backend.
type EmbeddingResult struct {
	Embedding   []float32
	TotalTokens int
}
