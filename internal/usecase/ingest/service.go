// Package ingest embeds records and uploads them into a Valkey HNSW collection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragtools/internal/db"
	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/metrics"
)

// Options tunes ingest throughput.
type Options struct {
	// BatchSize is the number of hashes per pipelined write.
	BatchSize int
	// Workers caps concurrent embedding calls.
	Workers int
	// RatePerSecond caps embedding calls per second; zero disables limiting.
	RatePerSecond float64
	// HNSW build parameters; zero keeps engine defaults.
	M           int
	EFConstruct int
	Logger      *zap.Logger
}

// ItemError reports one record that could not be stored.
type ItemError struct {
	ID  string
	Err error
}

// Report summarizes an ingest run.
type Report struct {
	Indexed  int
	Failed   int
	Errors   []ItemError
	Duration time.Duration
}

// Service uploads records into one collection.
type Service struct {
	store   Store
	embed   Embedder
	col     *domain.Collection
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates an ingest service for col.
func New(store Store, embed Embedder, col *domain.Collection, opts Options) (*Service, error) {
	if err := col.Validate(); err != nil {
		return nil, fmt.Errorf("collection: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{store: store, embed: embed, col: col, opts: opts, limiter: limiter, logger: l}, nil
}

// EnsureIndex creates the collection index unless it already exists.
func (s *Service) EnsureIndex(ctx context.Context) (created bool, err error) {
	exists, err := s.store.IndexExists(ctx, s.col.Name)
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	if exists {
		return false, nil
	}

	def, err := db.ForCollection(s.col, s.opts.M, s.opts.EFConstruct).Build()
	if err != nil {
		return false, fmt.Errorf("build index: %w", err)
	}
	if err := s.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return false, nil
		}
		return false, fmt.Errorf("create index: %w", err)
	}
	s.logger.Info("Index created", zap.String("index", s.col.Name), zap.Int("dims", s.col.Dimensions))
	return true, nil
}

// Ingest embeds and stores records batch by batch. Per-record failures are reported,
// not returned; the error is non-nil only when ctx is cancelled.
func (s *Service) Ingest(ctx context.Context, records []Record) (Report, error) {
	start := time.Now()
	var rep Report

	for off := 0; off < len(records); off += s.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		end := min(off+s.opts.BatchSize, len(records))
		s.processBatch(ctx, records[off:end], &rep)

		s.logger.Info("Ingest progress",
			zap.String("collection", s.col.Name),
			zap.Int("done", end),
			zap.Int("total", len(records)),
			zap.Int("failed", rep.Failed),
		)
	}

	rep.Duration = time.Since(start)
	return rep, nil
}

func (s *Service) processBatch(ctx context.Context, batch []Record, rep *Report) {
	items := make([]db.HashSetItem, len(batch))
	ok := make([]bool, len(batch))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range batch {
		g.Go(func() error {
			item, err := s.prepare(gctx, &batch[i])
			if err != nil {
				mu.Lock()
				rep.Errors = append(rep.Errors, ItemError{ID: batch[i].ID, Err: err})
				mu.Unlock()
				return nil
			}
			items[i], ok[i] = item, true
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]db.HashSetItem, 0, len(batch))
	validIDs := make([]string, 0, len(batch))
	for i := range batch {
		if ok[i] {
			valid = append(valid, items[i])
			validIDs = append(validIDs, batch[i].ID)
		}
	}
	failed := len(batch) - len(valid)

	if len(valid) > 0 {
		if err := s.store.HSetMulti(ctx, valid); err != nil {
			s.logger.Warn("Batch write failed", zap.Int("size", len(valid)), zap.Error(err))
			for _, id := range validIDs {
				rep.Errors = append(rep.Errors, ItemError{ID: id, Err: fmt.Errorf("write: %w", err)})
			}
			failed += len(valid)
			valid = nil
		}
	}

	rep.Indexed += len(valid)
	rep.Failed += failed
	metrics.IngestRecordsTotal.WithLabelValues(s.col.Name, "ok").Add(float64(len(valid)))
	metrics.IngestRecordsTotal.WithLabelValues(s.col.Name, "failed").Add(float64(failed))
}

func (s *Service) prepare(ctx context.Context, r *Record) (db.HashSetItem, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return db.HashSetItem{}, err
	}
	vec, err := s.embed.Embed(ctx, r.Query)
	if err != nil {
		return db.HashSetItem{}, fmt.Errorf("embed: %w", err)
	}
	if len(vec) != s.col.Dimensions {
		return db.HashSetItem{}, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), s.col.Dimensions)
	}

	fields := make(map[string]string, len(r.Fields)+2)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if s.col.IDField != "" {
		if _, ok := fields[s.col.IDField]; !ok {
			fields[s.col.IDField] = r.ID
		}
	}
	fields[s.col.VectorField] = db.EncodeFloat32(vec)

	return db.HashSetItem{Key: db.KeyPrefix(s.col.Name) + r.ID, Fields: fields}, nil
}
