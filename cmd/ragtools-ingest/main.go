// Command ragtools-ingest creates a collection index in Valkey and uploads embedded records.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/app"
	"github.com/kailas-cloud/ragtools/internal/config"
	logpkg "github.com/kailas-cloud/ragtools/internal/logger"
	"github.com/kailas-cloud/ragtools/internal/usecase/ingest"
)

type flags struct {
	configPath string
	collection string
	embedder   string
	docs       string
	images     string
	idField    string
	pathField  string
	workers    int
	batchSize  int
	rate       float64
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "config file path (default: config/<ENV>.yaml)")
	flag.StringVar(&f.collection, "collection", "", "collection to ingest into (required)")
	flag.StringVar(&f.embedder, "embedder", "", "embedder name (required)")
	flag.StringVar(&f.docs, "docs", "", "JSON array of documents to embed")
	flag.StringVar(&f.images, "images", "", "directory of images to embed")
	flag.StringVar(&f.idField, "id-field", "", "document field used as ID (default: collection id_field)")
	flag.StringVar(&f.pathField, "path-field", "image_path", "hash field that stores the image path")
	flag.IntVar(&f.workers, "workers", 0, "concurrent embedding calls (default: ingest.workers)")
	flag.IntVar(&f.batchSize, "batch-size", 0, "hashes per pipelined write (default: ingest.batch_size)")
	flag.Float64Var(&f.rate, "rate", 0, "embedding calls per second (default: ingest.rate_per_second)")
	flag.Parse()

	if err := run(&f); err != nil {
		fmt.Fprintln(os.Stderr, "ragtools-ingest:", err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	if f.collection == "" || f.embedder == "" {
		return fmt.Errorf("-collection and -embedder are required")
	}
	if (f.docs == "") == (f.images == "") {
		return fmt.Errorf("exactly one of -docs or -images is required")
	}

	env := config.GetEnv()
	var (
		cfg config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	col := cfg.Collection(f.collection)
	if col == nil {
		return fmt.Errorf("unknown collection %q", f.collection)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedders, err := app.NewEmbedders(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	adapter, ok := embedders[f.embedder]
	if !ok {
		return fmt.Errorf("unknown embedder %q", f.embedder)
	}

	records, err := loadRecords(f, col.IDField)
	if err != nil {
		return err
	}
	logger.Info("Records loaded", zap.Int("count", len(records)), zap.String("collection", col.Name))

	store, err := app.NewStore(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	target, err := app.IngestStore(store)
	if err != nil {
		return err
	}

	svc, err := ingest.New(target, adapter.ForCollection(col), col, ingest.Options{
		BatchSize:     firstPositive(f.batchSize, cfg.Ingest.BatchSize),
		Workers:       firstPositive(f.workers, cfg.Ingest.Workers),
		RatePerSecond: firstPositiveFloat(f.rate, cfg.Ingest.RatePerSecond),
		M:             cfg.Index.HNSWM,
		EFConstruct:   cfg.Index.HNSWEFConstruct,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if _, err := svc.EnsureIndex(ctx); err != nil {
		return err
	}

	rep, err := svc.Ingest(ctx, records)
	for i, e := range rep.Errors {
		if i == 5 {
			logger.Warn("More failures omitted", zap.Int("total", len(rep.Errors)))
			break
		}
		logger.Warn("Record failed", zap.String("id", e.ID), zap.Error(e.Err))
	}
	logger.Info("Ingest finished",
		zap.Int("indexed", rep.Indexed),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration),
	)
	return err
}

func loadRecords(f *flags, defaultIDField string) ([]ingest.Record, error) {
	if f.images != "" {
		return ingest.LoadImages(f.images, f.pathField)
	}

	file, err := os.Open(f.docs)
	if err != nil {
		return nil, fmt.Errorf("open documents: %w", err)
	}
	defer file.Close()

	idField := f.idField
	if idField == "" {
		idField = defaultIDField
	}
	return ingest.LoadDocuments(file, idField, nil)
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstPositiveFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
