// Package search runs validated k-NN similarity searches against collections.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/metrics"
)

// Service is the similarity search client.
type Service struct {
	engine Engine
	logger *zap.Logger
}

// New creates a search service.
func New(engine Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, logger: logger}
}

// Search issues exactly one k-NN query and returns at most k hits ordered by
// score descending, ties broken by ID ascending. Empty fields means every
// retrievable field of the collection. All failures are *domain.SearchError.
func (s *Service) Search(
	ctx context.Context, col *domain.Collection, vector []float32, k int, fields []string,
) ([]domain.Hit, error) {
	if err := validate(col, vector, k, fields); err != nil {
		return nil, &domain.SearchError{Collection: col.Name, Err: err}
	}
	if len(fields) == 0 {
		fields = col.Fields
	}
	returnFields := fields
	if col.IDField != "" && !slices.Contains(fields, col.IDField) {
		// The ID is fetched for ranking but stays out of the hit fields.
		returnFields = append(slices.Clip(fields), col.IDField)
	}

	start := time.Now()
	res, err := s.engine.SearchKNN(ctx, &db.KNNQuery{
		Index:        col.Name,
		VectorField:  col.VectorField,
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
		Metric:       col.Metric,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(col.Name, "error").Inc()
		s.logger.Warn("Search failed",
			zap.String("collection", col.Name),
			zap.Int("k", k),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if errors.Is(err, db.ErrIndexNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrCollectionNotFound, err)
		}
		return nil, &domain.SearchError{Collection: col.Name, Err: err}
	}

	metrics.SearchRequestsTotal.WithLabelValues(col.Name, "success").Inc()
	metrics.SearchRequestDuration.WithLabelValues(col.Name).Observe(duration.Seconds())

	hits := toHits(col, res.Entries, fields)
	slices.SortStableFunc(hits, func(a, b domain.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	s.logger.Debug("Search completed",
		zap.String("collection", col.Name),
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
		zap.Duration("duration", duration),
	)
	return hits, nil
}

func validate(col *domain.Collection, vector []float32, k int, fields []string) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", domain.ErrInvalidQuery, k)
	}
	if len(vector) != col.Dimensions {
		return fmt.Errorf("%w: got %d, collection expects %d", domain.ErrVectorDimMismatch, len(vector), col.Dimensions)
	}
	for _, f := range fields {
		if !col.HasField(f) {
			return fmt.Errorf("%w: unknown field %q", domain.ErrInvalidQuery, f)
		}
	}
	return nil
}

func toHits(col *domain.Collection, entries []db.SearchEntry, fields []string) []domain.Hit {
	hideID := col.IDField != "" && !slices.Contains(fields, col.IDField)
	hits := make([]domain.Hit, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if col.IDField != "" {
			if v, ok := e.Fields[col.IDField]; ok && v != "" {
				id = v
			}
			if hideID {
				e.Fields = withoutField(e.Fields, col.IDField)
			}
		}
		score := e.Score
		if score < 0 {
			score = 0
		}
		hits = append(hits, domain.Hit{ID: id, Score: score, Fields: e.Fields})
	}
	return hits
}

func withoutField(fields map[string]string, name string) map[string]string {
	if _, ok := fields[name]; !ok {
		return fields
	}
	out := make(map[string]string, len(fields)-1)
	for k, v := range fields {
		if k != name {
			out[k] = v
		}
	}
	return out
}
