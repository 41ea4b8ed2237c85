package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/retrieval-engine/internal/config"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
	"github.com/kirillkom/retrieval-engine/internal/core/usecase"
	rediscache "github.com/kirillkom/retrieval-engine/internal/infrastructure/cache/redis"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/embedding/ollama"
	natsevents "github.com/kirillkom/retrieval-engine/internal/infrastructure/events/nats"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/reranker/tei"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/retrieval-engine/internal/observability/logging"
	"github.com/kirillkom/retrieval-engine/internal/observability/metrics"
)

const serviceName = "retrieval-api"

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.HTTPServerMetrics
	Retriever ports.Retriever

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	directory := postgres.NewDocumentDirectory(db)

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := rediscache.NewResponseCache(redisClient, logger)

	graph, err := neo4j.New(neo4j.Config{
		URI:           cfg.Neo4jURI,
		Username:      cfg.Neo4jUser,
		Password:      cfg.Neo4jPassword,
		Database:      cfg.Neo4jDatabase,
		FulltextIndex: cfg.Neo4jFulltextIndex,
	})
	if err != nil {
		_ = db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}

	executorCfg := resilience.DefaultConfig()
	executorCfg.RetryMaxAttempts = cfg.UpstreamRetryMaxAttempts
	executorCfg.RetryInitialBackoff = time.Duration(cfg.UpstreamRetryBackoffInitialMS) * time.Millisecond
	executorCfg.RetryMaxBackoff = time.Duration(cfg.UpstreamRetryBackoffMaxMS) * time.Millisecond
	executor := resilience.NewExecutor(executorCfg)

	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, executor)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)
	reranker := tei.New(cfg.RerankerURL)

	publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSSubject, logger, natsevents.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = graph.Close(ctx)
		_ = db.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init nats: %w", err)
	}

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)

	settings := usecase.Settings{
		RRFK:             cfg.FusionRRFK,
		GraphScoreCap:    cfg.GraphScoreCap,
		DocMultiplier:    cfg.HierDocMultiplier,
		FusionCandidates: cfg.FusionCandidates,

		SearchTimeout: time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
		GraphTimeout:  time.Duration(cfg.GraphTimeoutSeconds) * time.Second,
		RerankTimeout: time.Duration(cfg.RerankTimeoutSeconds) * time.Second,
		CacheTimeout:  time.Duration(cfg.CacheTimeoutSeconds) * time.Second,
		CacheTTL:      time.Duration(cfg.CacheTTLSeconds) * time.Second,
	}

	retriever := usecase.NewRetrievalOrchestrator(
		embedder,
		vectorDB,
		vectorDB,
		graph,
		reranker,
		cache,
		directory,
		settings,
		logger,
		httpMetrics.Retrieval(),
		publisher,
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   httpMetrics,
		Retriever: retriever,

		closeFn: func() {
			publisher.Close()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = graph.Close(closeCtx)
			_ = redisClient.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
