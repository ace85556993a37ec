package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/app"
	"github.com/kailas-cloud/ragtools/internal/config"
	logpkg "github.com/kailas-cloud/ragtools/internal/logger"
	"github.com/kailas-cloud/ragtools/internal/metrics"
	chiTransport "github.com/kailas-cloud/ragtools/internal/transport/chi"
	mcpTransport "github.com/kailas-cloud/ragtools/internal/transport/mcp"
	"github.com/kailas-cloud/ragtools/internal/version"
)

func main() {
	var (
		configPath   string
		stdio        bool
		inlineImages bool
	)
	flag.StringVar(&configPath, "config", "", "config file path (default: config/<ENV>.yaml)")
	flag.BoolVar(&stdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.BoolVar(&inlineImages, "inline-images", false, "attach image results as MCP image content")
	flag.Parse()

	// Load configuration based on ENV
	env := config.GetEnv()

	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragtools",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Bool("stdio", stdio),
		zap.String("search_driver", cfg.Search.Driver),
		zap.Int("tools", len(cfg.Tools)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Register metrics explicitly (no init())
	metrics.RegisterMetrics()

	a, err := app.Build(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build application", zap.Error(err))
	}
	defer a.Close()

	mcpServer := mcpTransport.NewServer(a.Registry, mcpTransport.Options{
		Name:         "ragtools",
		Version:      version.Version,
		InlineImages: inlineImages,
		Logger:       logger,
	})

	if stdio {
		logger.Info("Serving MCP over stdio")
		if err := mcpServer.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", zap.Error(err))
		}
		return
	}

	opts := chiTransport.Options{
		Tools:   a.Registry,
		Health:  a.Health,
		MCP:     mcpServer.HTTPHandler(),
		APIKeys: cfg.Auth.APIKeys,
		Logger:  logger,
	}
	// Assign only non-nil pointers: a typed nil inside an interface is not nil.
	if a.Agent != nil {
		opts.Chat = a.Agent
	}
	if a.Summarizer != nil {
		opts.Summarizer = a.Summarizer
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewServer(opts).Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
