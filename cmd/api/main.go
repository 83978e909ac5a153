// Package main is the entry point for the triage API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/config"
	"github.com/ridgelineparts/triage/internal/draft"
	"github.com/ridgelineparts/triage/internal/handler"
	"github.com/ridgelineparts/triage/internal/intent"
	"github.com/ridgelineparts/triage/internal/llm"
	"github.com/ridgelineparts/triage/internal/middleware"
	natsclient "github.com/ridgelineparts/triage/internal/nats"
	"github.com/ridgelineparts/triage/internal/orders"
	"github.com/ridgelineparts/triage/internal/policy"
	"github.com/ridgelineparts/triage/internal/retrieval"
	"github.com/ridgelineparts/triage/internal/service"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/internal/verification"
	"github.com/ridgelineparts/triage/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting triage API server")

	ctx := context.Background()

	// Postgres is the system of record; bootstrap runs on first connect.
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// NATS carries the event and outcome streams. The pipeline degrades to
	// store-only auditing if the broker is down, so startup continues.
	var publisher service.EventPublisher
	natsClient, err := natsclient.Connect(natsclient.Config{
		URL:   cfg.NATSURL,
		Token: cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("failed to connect to NATS, event publication disabled", zap.Error(err))
	} else {
		defer natsClient.Close()
		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Warn("failed to ensure stream, event publication disabled", zap.Error(err))
		} else {
			publisher = streamManager
		}
	}

	// LLM client selection. A missing key degrades classification to the
	// keyword fallback and generation to escalation, it never aborts startup.
	var llmClient llm.Client
	switch llm.Provider(cfg.DefaultLLM) {
	case llm.ProviderOpenAI:
		if cfg.OpenAIAPIKey != "" {
			llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		}
	default:
		if cfg.AnthropicAPIKey != "" {
			llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		}
	}
	if err != nil {
		log.Warn("failed to create LLM client, running in fallback mode", zap.Error(err))
		llmClient = nil
	}
	if llmClient == nil {
		log.Warn("no LLM credentials configured, running in fallback mode")
	}

	var embedder retrieval.Embedder
	if emb, err := retrieval.NewOpenAIEmbedder(cfg.OpenAIAPIKey); err != nil {
		log.Warn("semantic retrieval disabled", zap.Error(err))
	} else {
		embedder = emb
	}

	registry := intent.NewRegistry(db, cfg.IntentRefreshInterval)
	if err := registry.Refresh(ctx); err != nil {
		log.Warn("initial intent catalog load failed", zap.Error(err))
	}

	classifier := intent.NewClassifier(registry, llmClient, cfg.ClassifyModel, cfg.ClassifyTimeout, log)

	var lookup orders.Lookup
	if cfg.CommerceAPIURL != "" {
		lookup = orders.NewHTTPLookup(cfg.CommerceAPIURL, cfg.CommerceAPIToken)
	}
	verifier := verification.NewGate(lookup, log)

	retriever := retrieval.New(db, embedder, cfg.RetrieveTimeout, log)

	instructions := draft.NewInstructionCache(instructionSource(cfg.InstructionsFile), cfg.InstructionCacheTTL)
	generator := draft.NewGenerator(llmClient, db, policy.NewGate(), instructions, draft.Config{
		Model:           cfg.GenerateModel,
		Timeout:         cfg.GenerateTimeout,
		HistoryMaxChars: cfg.HistoryMaxChars,
		StaleAfter:      cfg.StaleThreadAfter,
	}, log)

	locks := service.NewThreadLocks()
	observationSvc := service.NewObservationService(db, publisher, locks, log)
	triageSvc := service.NewTriageService(db, classifier, verifier, retriever, generator, observationSvc, publisher, locks, service.TriageConfig{
		HistoryLimit:      cfg.HistoryLimit,
		HistoryMaxChars:   cfg.HistoryMaxChars,
		RetrievalLimit:    cfg.RetrievalLimit,
		RetrievalMinScore: cfg.RetrievalMinScore,
	}, log)

	healthHandler := handler.NewHealthHandler(db, natsClient)
	ingestHandler := handler.NewIngestHandler(triageSvc, log)
	threadHandler := handler.NewThreadHandler(db, triageSvc, observationSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.With(middleware.RequireScope(middleware.ScopeIngest)).
			Post("/ingest", ingestHandler.Ingest)

		r.Route("/threads", func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeThreads))
			r.Get("/", threadHandler.List)

			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Get("/events", threadHandler.Events)
				r.Post("/drafts/{draftID}/sent", threadHandler.DraftSent)

				r.With(middleware.RequireScope(middleware.ScopeIntervene)).
					Post("/takeover", threadHandler.Takeover)
				r.With(middleware.RequireScope(middleware.ScopeIntervene)).
					Post("/release", threadHandler.Release)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// instructionSource serves operator-maintained prompt instructions from a
// local file, re-read on cache expiry so edits apply without a restart.
func instructionSource(path string) draft.InstructionSource {
	return func(ctx context.Context) (string, error) {
		if path == "" {
			return "", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read instructions file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}
