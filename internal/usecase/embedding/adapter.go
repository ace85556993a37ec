// Package embedding turns queries into vectors suitable for a collection.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// Adapter wraps one embedding backend with validation, normalization and logging.
// Transport metrics (requests, duration, tokens) are recorded by the backend itself.
type Adapter struct {
	backend   domain.EmbeddingBackend
	name      string
	normalize bool
	logger    *zap.Logger
}

// NewAdapter wraps a backend. normalize forces L2 normalization of every vector
// the backend does not already guarantee to be unit length.
func NewAdapter(backend domain.EmbeddingBackend, name string, normalize bool, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, name: name, normalize: normalize, logger: logger}
}

// ForCollection returns an adapter that also normalizes when the collection metric needs unit vectors.
func (a *Adapter) ForCollection(c *domain.Collection) *Adapter {
	cp := *a
	cp.normalize = a.normalize || c.Metric.RequiresUnitVectors()
	return &cp
}

// Name identifies the embedder in logs and health reports.
func (a *Adapter) Name() string { return a.name }

// Dimensions is the backend's declared output dimension (0 if undeclared).
func (a *Adapter) Dimensions() int { return a.backend.Dimensions() }

// Supports reports whether the backend accepts the modality.
func (a *Adapter) Supports(m domain.Modality) bool { return a.backend.Supports(m) }

// Embed makes exactly one backend call. Every failure is an *domain.EmbeddingError.
func (a *Adapter) Embed(ctx context.Context, q domain.Query) ([]float32, error) {
	if q.IsEmpty() {
		return nil, &domain.EmbeddingError{Modality: q.Modality(), Err: domain.ErrEmptyQuery}
	}
	if !a.backend.Supports(q.Modality()) {
		return nil, &domain.EmbeddingError{
			Modality: q.Modality(),
			Err:      fmt.Errorf("embedder %s: %w", a.name, domain.ErrUnsupportedModality),
		}
	}

	start := time.Now()
	res, err := a.backend.Embed(ctx, q)
	duration := time.Since(start)

	if err != nil {
		a.logger.Warn("Embedding request failed",
			zap.String("embedder", a.name),
			zap.Stringer("query", q),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if !errors.Is(err, domain.ErrEmbeddingProviderError) && !errors.Is(err, domain.ErrUnsupportedModality) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
		}
		return nil, &domain.EmbeddingError{Modality: q.Modality(), Err: err}
	}

	vec := res.Embedding
	if len(vec) == 0 {
		return nil, &domain.EmbeddingError{
			Modality: q.Modality(),
			Err:      fmt.Errorf("empty embedding: %w", domain.ErrEmbeddingProviderError),
		}
	}
	if dims := a.backend.Dimensions(); dims > 0 && len(vec) != dims {
		return nil, &domain.EmbeddingError{
			Modality: q.Modality(),
			Err:      fmt.Errorf("got %d, want %d: %w", len(vec), dims, domain.ErrVectorDimMismatch),
		}
	}

	if a.normalize && !a.backend.UnitLength() {
		vec = domain.Normalize(vec)
	}

	a.logger.Debug("Embedding request completed",
		zap.String("embedder", a.name),
		zap.String("modality", string(q.Modality())),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(vec)),
		zap.Int("total_tokens", res.TotalTokens),
	)

	return vec, nil
}

// HealthCheck delegates to the backend when it supports health checks.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hc, ok := a.backend.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedder %s: %w", a.name, err)
	}
	return nil
}
