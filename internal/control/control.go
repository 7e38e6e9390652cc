// Package control wires the recovery core into a runnable service: storage
// selection, migrations, the recovery surface (classifier, retry executor,
// checkpoint manager, reporter, orchestrator), the retention janitor, and
// the health endpoints. Embedding applications construct a Service and use
// its accessors; the rescued binary adds signal handling around it.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/rescue/internal/checkpoint"
	"github.com/vietddude/rescue/internal/classify"
	"github.com/vietddude/rescue/internal/core/worker"
	"github.com/vietddude/rescue/internal/health"
	"github.com/vietddude/rescue/internal/infra/probe"
	redisclient "github.com/vietddude/rescue/internal/infra/redis"
	"github.com/vietddude/rescue/internal/infra/storage"
	"github.com/vietddude/rescue/internal/infra/storage/memory"
	"github.com/vietddude/rescue/internal/infra/storage/postgres"
	"github.com/vietddude/rescue/internal/recovery"
	"github.com/vietddude/rescue/internal/report"
)

// Config holds the service configuration.
type Config struct {
	Port        int
	Database    postgres.Config
	Redis       redisclient.Config
	Checkpoints checkpoint.Config
	Reports     report.Config
	Recovery    recovery.Config
	Probe       probe.Config

	// SessionID names the diagnostic session shared through Redis. Empty
	// generates a fresh id, scoping the buffers to this process.
	SessionID string

	// MigrationsDir points goose at the SQL migrations. Defaults to
	// "migrations" relative to the working directory.
	MigrationsDir string
}

// Service is the assembled recovery core with its background workers.
type Service struct {
	cfg Config

	db          *postgres.DB
	redisClient *redisclient.Client

	registry     *recovery.Registry
	checkpoints  checkpoint.Manager
	reporter     *report.Service
	orchestrator *recovery.Orchestrator
	spool        *report.Spool
	janitor      *worker.Janitor
	healthMon    *health.Monitor
	healthServer *health.Server

	log *slog.Logger
}

// NewService creates a Service with all dependencies initialized. Postgres
// backs the stores when a database URL is configured, with migrations
// applied at construction; otherwise everything runs on in-memory storage.
func NewService(cfg Config) (*Service, error) {
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "migrations"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}

	// 1. Storage
	var cpRepo storage.CheckpointRepository
	var repRepo storage.ErrorReportRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, cfg.MigrationsDir); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		cpRepo = postgres.NewCheckpointRepo(db)
		repRepo = postgres.NewReportRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		cpRepo = memory.NewCheckpointRepo(store)
		repRepo = memory.NewReportRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Session buffers: shared through Redis when configured, otherwise
	// process-local.
	var redisClient *redisclient.Client
	var session report.Session
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, using in-memory session", "error", err)
		} else {
			session = redisclient.NewSessionStore(redisClient, cfg.SessionID,
				cfg.Reports.MaxActions, cfg.Reports.MaxRecoveryAttempts)
			slog.Info("Using Redis session store", "session_id", cfg.SessionID)
		}
	}
	if session == nil {
		session = report.NewMemorySession(cfg.Reports.MaxActions, cfg.Reports.MaxRecoveryAttempts)
	}

	// 3. Recovery surface
	envProbe := probe.NewSystemProbe(cfg.Probe)
	classifier := classify.New(envProbe)
	registry := recovery.NewRegistry()

	cpMgr := checkpoint.NewManager(cpRepo, cfg.Checkpoints)

	spoolDir := cfg.Reports.SpoolDir
	if spoolDir == "" {
		spoolDir = "spool"
	}
	spool := report.NewSpool(spoolDir)
	reporter := report.NewService(repRepo, envProbe, session, report.WithSpool(spool))

	executor := recovery.NewExecutor(registry, classifier, cpMgr)
	orchestrator := recovery.NewOrchestrator(executor, classifier, cpMgr, reporter, registry,
		recovery.WithDefaultRetry(cfg.Recovery))

	// 4. Background workers and health
	janitor := worker.NewJanitor(cfg.Checkpoints, cfg.Reports, cpMgr, repRepo, spool)

	var dbPinger, redisPinger health.Pinger
	if db != nil {
		dbPinger = db
	}
	if redisClient != nil {
		redisPinger = redisClient
	}
	healthMon := health.NewMonitor(dbPinger, redisPinger, registry, spool,
		health.WithSweeper(janitor))
	healthServer := health.NewServer(healthMon, cfg.Port)

	return &Service{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		registry:     registry,
		checkpoints:  cpMgr,
		reporter:     reporter,
		orchestrator: orchestrator,
		spool:        spool,
		janitor:      janitor,
		healthMon:    healthMon,
		healthServer: healthServer,
		log:          slog.Default(),
	}, nil
}

// Start launches the health server and the background loops. It returns
// immediately; the loops run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	go s.healthMon.Start(ctx)

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go s.janitor.Start(ctx)

	return nil
}

// Stop shuts the service down: the health server first so load balancers
// stop routing, then the external connections.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	err := s.healthServer.Stop(ctx)

	if s.redisClient != nil {
		if cerr := s.redisClient.Close(); cerr != nil {
			s.log.Warn("Failed to close Redis", "error", cerr)
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.log.Warn("Failed to close database", "error", cerr)
		}
	}

	return err
}

// Orchestrator returns the recovery entry point for embedding applications.
func (s *Service) Orchestrator() *recovery.Orchestrator {
	return s.orchestrator
}

// Reporter returns the error reporting service.
func (s *Service) Reporter() *report.Service {
	return s.reporter
}

// Checkpoints returns the checkpoint manager.
func (s *Service) Checkpoints() checkpoint.Manager {
	return s.checkpoints
}

// Health returns the health monitor.
func (s *Service) Health() *health.Monitor {
	return s.healthMon
}
