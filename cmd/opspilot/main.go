package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ophttp "github.com/opspilot-io/opspilot/internal/adapter/http"
	"github.com/opspilot-io/opspilot/internal/adapter/knowledge"
	"github.com/opspilot-io/opspilot/internal/adapter/memory"
	opnats "github.com/opspilot-io/opspilot/internal/adapter/nats"
	"github.com/opspilot-io/opspilot/internal/adapter/openrouter"
	"github.com/opspilot-io/opspilot/internal/adapter/otel"
	"github.com/opspilot-io/opspilot/internal/adapter/postgres"
	"github.com/opspilot-io/opspilot/internal/adapter/ristretto"
	"github.com/opspilot-io/opspilot/internal/adapter/ws"
	"github.com/opspilot-io/opspilot/internal/config"
	"github.com/opspilot-io/opspilot/internal/graph"
	"github.com/opspilot-io/opspilot/internal/logger"
	"github.com/opspilot-io/opspilot/internal/port/approvalstore"
	"github.com/opspilot-io/opspilot/internal/port/auditstore"
	"github.com/opspilot-io/opspilot/internal/port/broadcast"
	"github.com/opspilot-io/opspilot/internal/port/messagequeue"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
	"github.com/opspilot-io/opspilot/internal/resilience"
	"github.com/opspilot-io/opspilot/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"model", cfg.OpenRouter.Model,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := otel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	var metrics *otel.Metrics
	var observer graph.Observer
	if cfg.Telemetry.Endpoint != "" {
		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		observer = otel.StageObserver()
	}

	// --- Persistence ---
	var (
		approvals approvalstore.Store
		audits    auditstore.Store
	)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		approvals = postgres.NewApprovalStore(pool)
		audits = postgres.NewAuditStore(pool)
	} else {
		slog.Warn("no database configured, approvals and audits are in-memory only")
		approvals = memory.NewApprovalStore()
		audits = memory.NewAuditStore()
	}

	// --- Messaging ---
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err := opnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := natsQueue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = natsQueue
	} else {
		slog.Warn("no message queue configured, run events will not be published")
	}

	// --- External clients ---
	reasonerClient := openrouter.NewClient(cfg.OpenRouter.URL, cfg.OpenRouter.APIKey,
		openrouter.WithModel(cfg.OpenRouter.Model),
		openrouter.WithTemperature(cfg.OpenRouter.Temperature),
		openrouter.WithMaxTries(cfg.OpenRouter.MaxTries),
		openrouter.WithTimeout(cfg.OpenRouter.Timeout),
	)
	reasonerClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown))

	knowledgeClient := knowledge.NewClient(cfg.Knowledge.URL)
	knowledgeClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown))

	var searcher retriever.Retriever = knowledgeClient
	searchCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer searchCache.Close()
	searcher = service.NewCachedRetriever(searcher, searchCache, cfg.Cache.TTL)

	// --- Pipelines and services ---
	pipelines, err := service.BuildPipelines(service.PipelineDeps{
		Reasoner:  reasonerClient,
		Retriever: searcher,
		Approvals: approvals,
		Orch:      cfg.Orchestrator,
		Observer:  observer,
	})
	if err != nil {
		return fmt.Errorf("pipelines: %w", err)
	}

	hub := ws.NewHub()
	var broadcaster broadcast.Broadcaster = hub

	agentSvc := service.NewAgentService(pipelines, approvals, audits, queue, broadcaster, metrics, cfg.Orchestrator)
	approvalSvc := service.NewApprovalService(approvals, audits, pipelines, queue, broadcaster, metrics)

	// --- HTTP ---
	handlers := ophttp.NewHandlers(agentSvc, approvalSvc, audits, searcher, hub, cfg.Knowledge.TopK)

	r := chi.NewRouter()
	r.Use(ophttp.CORS(cfg.Server.CORSOrigin))
	r.Use(ophttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Endpoint != "" {
		r.Use(otel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	}

	ophttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Runs block until completion or suspension; give them room.
		WriteTimeout: cfg.Orchestrator.RunTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
