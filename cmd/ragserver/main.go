// ragserver is a multi-tenant retrieval-augmented generation backend:
// when a sync is requested it scans the tenant's document root and
// brings a Postgres+pgvector catalog of files and chunk embeddings in
// line with the filesystem, and it serves semantic queries over HTTP.
//
// Configuration is loaded from environment variables; see
// internal/appconfig for the full list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/tmc/langchaingo/llms/openai"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragserver/internal/appconfig"
	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/chunk"
	"github.com/fyrsmithlabs/ragserver/internal/embed"
	"github.com/fyrsmithlabs/ragserver/internal/embeddings"
	"github.com/fyrsmithlabs/ragserver/internal/httpapi"
	"github.com/fyrsmithlabs/ragserver/internal/logging"
	"github.com/fyrsmithlabs/ragserver/internal/reranker"
	"github.com/fyrsmithlabs/ragserver/internal/retriever"
	"github.com/fyrsmithlabs/ragserver/internal/supervisor"
	"github.com/fyrsmithlabs/ragserver/internal/syncmanager"
	"github.com/fyrsmithlabs/ragserver/internal/telemetry"
	"github.com/fyrsmithlabs/ragserver/internal/tenantauth"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ragserver:", err)
		os.Exit(1)
	}
}

// run initializes every collaborator in dependency order and blocks
// until ctx is cancelled, then shuts down gracefully: config → logger
// → dependencies → services → HTTP → block-until-cancel.
func run(ctx context.Context) error {
	cfg, err := appconfig.Load(os.Getenv("RAGSERVER_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger, err := initLogger(cfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ragserver", zap.Int("http_port", cfg.HTTPPort), zap.String("watch_root", cfg.WatchRoot))

	store, err := catalog.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}

	if cfg.AdminAPIKey != "" {
		if err := store.BootstrapAdminTenant(ctx, cfg.AdminAPIKey); err != nil {
			return fmt.Errorf("bootstrap admin tenant: %w", err)
		}
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("nats connect failed, continuing without lifecycle events", zap.Error(err))
		} else {
			defer nc.Close()
		}
	}
	publisher := syncmanager.NewEventPublisher(nc)

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		BaseURL:  cfg.EmbeddingBaseURL,
	})
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}
	defer provider.Close()

	chunker, err := chunk.New(chunk.Config{
		WindowTokens:  cfg.ChunkSize,
		OverlapTokens: cfg.ChunkOverlap,
		Encoding:      cfg.TiktokenEncoding,
	})
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}

	batchCfg := embed.DefaultConfig()
	if cfg.BatchMin > 0 {
		batchCfg.BatchMin = cfg.BatchMin
	}
	if cfg.BatchMax > 0 {
		batchCfg.BatchMax = cfg.BatchMax
	}
	if cfg.BatchConcurrency > 0 {
		batchCfg.MaxConcurrentBatches = cfg.BatchConcurrency
	}
	batcher := embed.New(provider, batchCfg)

	sm := syncmanager.New(syncmanager.Deps{
		Store:     store,
		Chunker:   chunker,
		Batcher:   batcher,
		Publisher: publisher,
		Timeouts:  syncTimeouts(cfg),
		DocsRoot:  func(tenantSlug string) string { return filepath.Join(cfg.WatchRoot, tenantSlug) },
		ModelName: cfg.EmbeddingModel,
		Logger:    logger,
	})

	gen, err := buildGenerator(cfg)
	if err != nil {
		return fmt.Errorf("init answer generator: %w", err)
	}
	rt := retriever.New(store.Pool(), provider, gen).WithReranker(reranker.NewSimpleReranker())

	resolver, err := tenantauth.New(store, 4096)
	if err != nil {
		return fmt.Errorf("init tenant resolver: %w", err)
	}

	srv := httpapi.New(store, sm, rt, resolver, logger)

	sup, err := supervisor.New(sm, store, cleanupCronSpec(cfg), logger)
	if err != nil {
		return fmt.Errorf("init supervisor: %w", err)
	}
	sup.Start()
	defer sup.Stop()

	logger.Info("ragserver ready", zap.Int("port", cfg.HTTPPort))
	return srv.Start(ctx, fmt.Sprintf(":%d", cfg.HTTPPort))
}

func initLogger(cfg *appconfig.Config, otelProvider otellog.LoggerProvider) (*zap.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	if lvl, err := logging.LevelFromString(cfg.LogLevel); err == nil {
		lcfg.Level = lvl
	}
	if cfg.OTLPEndpoint != "" {
		lcfg.Output.OTEL = true
	}
	l, err := logging.NewLogger(lcfg, otelProvider)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

func telemetryConfig(cfg *appconfig.Config) *telemetry.Config {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.ServiceName = "ragserver"
	if cfg.OTLPEndpoint != "" {
		tcfg.Enabled = true
		tcfg.Endpoint = cfg.OTLPEndpoint
	}
	return tcfg
}

func syncTimeouts(cfg *appconfig.Config) syncmanager.Timeouts {
	t := syncmanager.DefaultTimeouts()
	if cfg.SyncHeartbeatEvery > 0 {
		t.HeartbeatEvery = cfg.SyncHeartbeatEvery
	}
	if cfg.BaseTimeout > 0 {
		t.BaseTimeout = cfg.BaseTimeout
	}
	if cfg.PerFileTimeout > 0 {
		t.PerFileTimeout = cfg.PerFileTimeout
	}
	if cfg.MinTimeout > 0 {
		t.MinTimeout = cfg.MinTimeout
	}
	if cfg.MaxTimeout > 0 {
		t.MaxTimeout = cfg.MaxTimeout
	}
	if cfg.StuckMultiplier > 0 {
		t.StuckMultiplier = cfg.StuckMultiplier
	}
	return t
}

// buildGenerator constructs the optional answer-synthesis collaborator
// from LLM_BASE_URL/LLM_MODEL; it returns a nil Generator (answer
// synthesis skipped, retriever falls back to sources-only) when no base
// URL is configured.
func buildGenerator(cfg *appconfig.Config) (retriever.Generator, error) {
	if cfg.LLMBaseURL == "" {
		return nil, nil
	}
	apiKey := cfg.LLMAPIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.LLMBaseURL),
		openai.WithModel(cfg.LLMModel),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, err
	}
	return retriever.NewLangchainGenerator(llm), nil
}

func cleanupCronSpec(cfg *appconfig.Config) string {
	if cfg.CleanupInterval <= 0 {
		return "@every 5m"
	}
	return fmt.Sprintf("@every %s", cfg.CleanupInterval)
}
