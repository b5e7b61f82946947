// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server wires the orchestrator together: model clients, stores,
// the answer pipeline, tracing, and the HTTP surface.
//
// # Usage
//
// Zero-configuration (local Ollama, in-memory stores):
//
//	cfg := config.Default()
//	svc, err := server.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// Enterprise deployments inject auth/audit implementations via
// extensions.ServiceOptions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/llm"
	"github.com/AleutianAI/kodiak/services/orchestrator/analytics"
	"github.com/AleutianAI/kodiak/services/orchestrator/cache"
	"github.com/AleutianAI/kodiak/services/orchestrator/classifier"
	"github.com/AleutianAI/kodiak/services/orchestrator/config"
	"github.com/AleutianAI/kodiak/services/orchestrator/conversation"
	"github.com/AleutianAI/kodiak/services/orchestrator/judge"
	"github.com/AleutianAI/kodiak/services/orchestrator/observability"
	"github.com/AleutianAI/kodiak/services/orchestrator/pipeline"
	"github.com/AleutianAI/kodiak/services/orchestrator/retrieval"
	"github.com/AleutianAI/kodiak/services/orchestrator/routes"
	"github.com/AleutianAI/kodiak/services/orchestrator/routing"
)

// Service is the assembled orchestrator.
//
// # Thread Safety
//
// All fields are read-only after New returns. Run blocks and should be
// called at most once.
type Service struct {
	config        *config.Config
	router        *gin.Engine
	conversations *conversation.Store
	analytics     analytics.Sink
	tracerCleanup func(context.Context)
}

// New assembles the orchestrator from configuration.
//
// # Description
//
// Initialization order: tracing, metrics, model clients, stores,
// pipeline, HTTP routes. Optional backends degrade instead of failing:
// no Redis means in-memory cache, no Influx means no analytics, no OTLP
// endpoint means no trace export. Weaviate is required; there is no
// retrieval without an index.
func New(cfg *config.Config, opts *extensions.ServiceOptions) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{config: cfg}

	options := extensions.DefaultOptions()
	if opts != nil {
		options = *opts
	}

	cleanup, err := initTracer(cfg.OTel.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	metrics := observability.InitMetrics()

	generator, classifierModel, judgeModel, err := buildModelClients(cfg)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	store, err := buildCacheStore(cfg)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}
	responses := cache.NewResponseCache(store, cfg.Cache.ResponseTTL)

	s.conversations, err = buildConversationStore(cfg)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	s.analytics = buildAnalyticsSink(cfg)

	weaviateClient, err := buildWeaviateClient(cfg.Weaviate.URL)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}
	searcher, err := retrieval.NewWeaviateSearcher(weaviateClient, cfg.Weaviate.ClassName, cfg.Weaviate.Alpha)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}
	retriever, err := retrieval.NewMultiQueryRetriever(searcher, generator,
		cfg.Retrieval.ParaphraseCount, cfg.Retrieval.SearchTimeout)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	classifierConfig := classifier.DefaultConfig()
	classifierConfig.Timeout = cfg.Classifier.Timeout
	classifierConfig.CacheTTL = cfg.Classifier.CacheTTL
	classifierConfig.CacheMaxSize = cfg.Classifier.CacheMaxSize
	classifierConfig.MaxConcurrent = cfg.Classifier.MaxConcurrent
	classifierConfig.HistoryTurns = cfg.Classifier.HistoryTurns
	classifierConfig.Extension = options.Classifier
	cls, err := classifier.New(classifierModel, store, classifierConfig)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	queryRouter := routing.NewRouter(cfg.Routing.LowConfidenceThreshold)

	j, err := judge.NewJudge(judgeModel, cfg.Guardrails.GenerateTimeout)
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	p, err := pipeline.New(pipeline.Deps{
		Classifier:    cls,
		Router:        queryRouter,
		Retriever:     retriever,
		Compressor:    retrieval.NewCompressor(generator),
		Judge:         j,
		Generator:     generator,
		Responses:     responses,
		Conversations: s.conversations,
		Analytics:     s.analytics,
		Metrics:       metrics,
		ContextFilter: options.ContextFilter,
	}, pipeline.Config{
		MinConfidence:      cfg.Guardrails.MinConfidence,
		RetryMinConfidence: cfg.Guardrails.RetryMinConfidence,
		RetryDocCeiling:    cfg.Guardrails.RetryDocCeiling,
		RetryCooldown:      cfg.Guardrails.RetryCooldown,
		StrictBlocking:     cfg.Guardrails.StrictBlocking,
		GenerateTimeout:    cfg.Guardrails.GenerateTimeout,
		FirstChunkTimeout:  cfg.Guardrails.FirstChunkTimeout,
		ChunkTimeout:       cfg.Guardrails.ChunkTimeout,
		HistoryTurns:       cfg.Guardrails.HistoryTurns,
		MaxContextChars:    cfg.Guardrails.MaxContextChars,
	})
	if err != nil {
		s.shutdownPartial()
		return nil, err
	}

	gin.SetMode(cfg.Server.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	routes.SetupRoutes(s.router, routes.Deps{
		Pipeline:      p,
		Classifier:    cls,
		Router:        queryRouter,
		Judge:         j,
		Responses:     responses,
		Conversations: s.conversations,
		AuthProvider:  options.AuthProvider,
		Auditor:       options.Auditor,
	})

	return s, nil
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks until the context is canceled or
// the listener fails. Shutdown drains in-flight requests for up to 10s.
func (s *Service) Run(ctx context.Context) error {
	defer s.shutdownPartial()

	if s.config.Storage.RetentionMaxAge > 0 {
		sweeper, err := conversation.NewSweeper(s.conversations, conversation.SweeperConfig{
			Interval:  s.config.Storage.SweepInterval,
			MaxAge:    s.config.Storage.RetentionMaxAge,
			BatchSize: 500,
		}, nil)
		if err != nil {
			return fmt.Errorf("retention sweeper: %w", err)
		}
		go sweeper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting orchestrator server", "port", s.config.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down orchestrator server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// shutdownPartial releases whatever was initialized. Safe to call on a
// half-built service after a constructor error.
func (s *Service) shutdownPartial() {
	if s.conversations != nil {
		if err := s.conversations.Close(); err != nil {
			slog.Warn("conversation store close error", "error", err)
		}
		s.conversations = nil
	}
	if s.analytics != nil {
		s.analytics.Close()
		s.analytics = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Component builders
// =============================================================================

func buildModelClients(cfg *config.Config) (generator, classifierModel, judgeModel llm.LLMClient, err error) {
	build := func(model string) (llm.LLMClient, error) {
		switch cfg.LLM.Backend {
		case "openai":
			return llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.APIKey(), model)
		default:
			return llm.NewOllamaClient(cfg.LLM.BaseURL, model)
		}
	}
	if generator, err = build(cfg.LLM.Model); err != nil {
		return nil, nil, nil, fmt.Errorf("generator client: %w", err)
	}
	if classifierModel, err = build(cfg.LLM.ClassifierModel); err != nil {
		return nil, nil, nil, fmt.Errorf("classifier client: %w", err)
	}
	if judgeModel, err = build(cfg.LLM.JudgeModel); err != nil {
		return nil, nil, nil, fmt.Errorf("judge client: %w", err)
	}
	return generator, classifierModel, judgeModel, nil
}

func buildCacheStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("redis not configured, using in-memory cache store")
		return cache.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := cache.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	slog.Info("connected to redis cache store", "addr", cfg.Redis.Addr)
	return store, nil
}

func buildConversationStore(cfg *config.Config) (*conversation.Store, error) {
	if cfg.Storage.ConversationPath == "" {
		slog.Info("conversation path not configured, using in-memory store")
		return conversation.OpenInMemory()
	}
	return conversation.Open(cfg.Storage.ConversationPath)
}

func buildAnalyticsSink(cfg *config.Config) analytics.Sink {
	if cfg.Influx.URL == "" {
		return analytics.NopSink{}
	}
	slog.Info("analytics sink enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	return analytics.NewInfluxSink(cfg.Influx.URL, cfg.InfluxToken(), cfg.Influx.Org, cfg.Influx.Bucket)
}

func buildWeaviateClient(rawURL string) (*weaviate.Client, error) {
	trimmed := strings.Trim(rawURL, "\"' ")
	if trimmed == "" {
		return nil, fmt.Errorf("weaviate.url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate URL: %s", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	return client, nil
}

// initTracer configures the OTLP trace exporter. An empty endpoint
// leaves the global no-op tracer in place.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("kodiak-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
