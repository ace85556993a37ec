// Package app builds the object graph from configuration. Both commands share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/config"
	"github.com/kailas-cloud/ragtools/internal/db"
	dbOpenSearch "github.com/kailas-cloud/ragtools/internal/db/opensearch"
	dbValkey "github.com/kailas-cloud/ragtools/internal/db/valkey"
	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/metrics"
	"github.com/kailas-cloud/ragtools/internal/repository/embcache"
	bedrockEmb "github.com/kailas-cloud/ragtools/internal/transport/bedrock"
	openaiTransport "github.com/kailas-cloud/ragtools/internal/transport/openai"
	"github.com/kailas-cloud/ragtools/internal/transport/websearch"
	"github.com/kailas-cloud/ragtools/internal/usecase/agent"
	embeddinguc "github.com/kailas-cloud/ragtools/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragtools/internal/usecase/health"
	"github.com/kailas-cloud/ragtools/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/ragtools/internal/usecase/search"
	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

// App holds the long-lived components of the server.
type App struct {
	Store      db.Store
	Registry   *tool.Registry
	Health     *healthuc.Service
	Agent      *agent.Agent
	Summarizer *agent.Summarizer
}

// Close releases the search engine connection.
func (a *App) Close() {
	a.Store.Close()
}

// NewStore connects to the configured search engine and waits until it answers.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Search.Driver {
	case config.DriverValkey:
		store, err = dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Search.Valkey.Addrs,
			Username: cfg.Search.Valkey.Username,
			Password: cfg.Search.Valkey.Password,
		})
	case config.DriverOpenSearch:
		osc := cfg.Search.OpenSearch
		store, err = dbOpenSearch.NewStore(ctx, dbOpenSearch.Config{
			Endpoint: osc.Endpoint,
			Region:   osc.Region,
			Service:  osc.Service,
			Profile:  osc.Profile,
			Username: osc.Username,
			Password: osc.Password,
			Timeout:  time.Duration(osc.TimeoutSec) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown search driver %q", cfg.Search.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Search.Driver, err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.Search.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s not ready: %w", cfg.Search.Driver, err)
	}
	logger.Info("Connected to search engine", zap.String("driver", cfg.Search.Driver))
	return store, nil
}

// NewEmbedders builds one adapter per configured embedder.
func NewEmbedders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[string]*embeddinguc.Adapter, error) {
	out := make(map[string]*embeddinguc.Adapter, len(cfg.Embedders))
	for name, ec := range cfg.Embedders {
		backend, err := newBackend(ctx, name, &ec, logger)
		if err != nil {
			return nil, err
		}
		out[name] = embeddinguc.NewAdapter(backend, name, ec.Normalize, logger)
		logger.Info("Embedder created",
			zap.String("name", name),
			zap.String("provider", ec.Provider),
			zap.String("model", ec.Model),
			zap.Int("dimensions", ec.Dimensions),
		)
	}
	return out, nil
}

func newBackend(ctx context.Context, name string, ec *config.EmbedderConfig, logger *zap.Logger) (domain.EmbeddingBackend, error) {
	switch ec.Provider {
	case config.ProviderOpenAI:
		return openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			UnitLength: ec.UnitLength,
			Provider:   config.ProviderOpenAI,
			Logger:     logger,
		}), nil
	case config.ProviderBedrock:
		e, err := bedrockEmb.NewEmbedder(ctx, &bedrockEmb.Config{
			Region:     ec.Region,
			Profile:    ec.Profile,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder %s: %w", name, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("embedder %s: unknown provider %q", name, ec.Provider)
	}
}

// Build wires the store, embedders, registry, health and the optional chat agent.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) (*App, error) {
	embedders, err := NewEmbedders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var web tool.WebSearcher
	if cfg.Web.APIKey != "" {
		web = websearch.NewClient(websearch.Config{
			APIKey:   cfg.Web.APIKey,
			Endpoint: cfg.Web.Endpoint,
			Timeout:  time.Duration(cfg.Web.TimeoutSec) * time.Second,
		})
	}

	registry := tool.NewRegistry(tool.Options{
		Searcher: searchuc.New(store, logger),
		Web:      web,
		AssetDir: cfg.Assets.Dir,
		Timeout:  cfg.ToolTimeout(),
		Logger:   logger,
	})

	// The embedding cache needs a key-value store; only the Valkey engine provides one.
	kv, _ := store.(db.KVStore)

	for i := range cfg.Tools {
		spec, err := toolSpec(cfg, &cfg.Tools[i], embedders, kv, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(spec); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	checkers := make(map[string]healthuc.EmbeddingChecker, len(embedders))
	for name, e := range embedders {
		checkers[name] = e
	}

	a := &App{
		Store:    store,
		Registry: registry,
		Health:   healthuc.New(store, checkers),
	}

	if cfg.Chat.Model != "" {
		chat := openaiTransport.NewChat(&openaiTransport.ChatConfig{
			APIKey:  cfg.Chat.APIKey,
			BaseURL: cfg.Chat.BaseURL,
			Model:   cfg.Chat.Model,
		})
		agentCfg := agentConfig(&cfg.Chat)
		a.Agent = agent.New(chat, registry, agentCfg, logger)
		if cfg.Chat.SummaryTool != "" {
			a.Summarizer = agent.NewSummarizer(chat, registry, cfg.Chat.SummaryTool, agentCfg.References)
		}
	}

	return a, nil
}

func agentConfig(c *config.ChatConfig) agent.Config {
	return agent.Config{
		SystemPrompt: c.SystemPrompt,
		MaxSteps:     c.MaxSteps,
		Parallelism:  c.Parallelism,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		References:   agent.ReferenceFields{Title: c.TitleField, Content: c.ContentField},
	}
}

func toolSpec(
	cfg *config.Config,
	tc *config.ToolConfig,
	embedders map[string]*embeddinguc.Adapter,
	kv db.KVStore,
	logger *zap.Logger,
) (tool.Spec, error) {
	spec := tool.Spec{
		Name:        tc.Name,
		Description: tc.Description,
		Kind:        tool.Kind(tc.Kind),
		K:           tc.K,
		Fields:      tc.Fields,
		PathField:   tc.PathField,
	}
	if spec.Kind == tool.KindWeb {
		return spec, nil
	}

	col := cfg.Collection(tc.Collection)
	if col == nil {
		return tool.Spec{}, fmt.Errorf("tool %s: unknown collection %q", tc.Name, tc.Collection)
	}
	adapter, ok := embedders[tc.Embedder]
	if !ok {
		return tool.Spec{}, fmt.Errorf("tool %s: unknown embedder %q", tc.Name, tc.Embedder)
	}
	if d := adapter.Dimensions(); d > 0 && d != col.Dimensions {
		return tool.Spec{}, fmt.Errorf("tool %s: embedder %s produces %d dimensions, collection %s expects %d: %w",
			tc.Name, tc.Embedder, d, col.Name, col.Dimensions, domain.ErrVectorDimMismatch)
	}

	spec.Collection = col
	spec.Embedder = adapter.ForCollection(col)

	ttl := cfg.Embedders[tc.Embedder].CacheTTLSec
	if kv != nil && ttl != 0 {
		if ttl < 0 {
			ttl = 0
		}
		// Normalization depends on the collection metric, so the metric scopes the cache.
		name := tc.Embedder + ":" + string(col.Metric)
		spec.Embedder = embcache.New(spec.Embedder, kv, name, col.Dimensions,
			time.Duration(ttl)*time.Second, metrics.EmbeddingCacheTotal, logger)
	}
	return spec, nil
}

// ErrNotValkey is returned when ingest runs against a non-Valkey engine.
var ErrNotValkey = errors.New("ingest requires the valkey search driver")

// IngestStore narrows a store to the index and hash operations ingest needs.
func IngestStore(store db.Store) (ingest.Store, error) {
	s, ok := store.(ingest.Store)
	if !ok {
		return nil, ErrNotValkey
	}
	return s, nil
}
