// Package app wires the application together: database, provider
// registry, routing, ledger and orchestrator. This is the single place
// where concrete implementations meet.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub016/config"
	"github.com/Luneo19/luneo-platform-sub016/internal/ledger"
	"github.com/Luneo19/luneo-platform-sub016/services/generation"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
	"github.com/Luneo19/luneo-platform-sub016/services/providers/anthropic"
	"github.com/Luneo19/luneo-platform-sub016/services/providers/mistral"
	"github.com/Luneo19/luneo-platform-sub016/services/providers/openai"
	"github.com/Luneo19/luneo-platform-sub016/services/providers/stability"
	"github.com/Luneo19/luneo-platform-sub016/services/routing"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	Config *config.Config
	DB     *sql.DB
	Logger *zap.Logger

	Registry     *providers.Registry
	Router       *routing.Service
	Ledger       generation.Ledger
	Orchestrator *generation.Orchestrator
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the ledger database and verifies connectivity.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.DB = db
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initProviders builds and freezes the provider registry. Adapters are
// registered even without credentials; Available() keeps them out of
// routing until keys arrive.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry(d.Logger)

	register := func(p providers.Provider, pc config.ProviderConfig) error {
		return registry.Register(p, providers.Descriptor{
			Enabled:    pc.Enabled,
			Priority:   pc.Priority,
			MaxRetries: pc.MaxRetries,
			Timeout:    pc.Timeout,
		})
	}

	if err := register(openai.New(adapterConfig(cfg.Providers.OpenAI)), cfg.Providers.OpenAI); err != nil {
		return err
	}
	if err := register(anthropic.New(adapterConfig(cfg.Providers.Anthropic)), cfg.Providers.Anthropic); err != nil {
		return err
	}
	if err := register(mistral.New(adapterConfig(cfg.Providers.Mistral)), cfg.Providers.Mistral); err != nil {
		return err
	}
	if err := register(stability.New(adapterConfig(cfg.Providers.Stability)), cfg.Providers.Stability); err != nil {
		return err
	}

	registry.Freeze()

	if len(registry.Available()) == 0 {
		d.Logger.Warn("no providers available, check API key configuration")
	}

	d.Registry = registry
	return nil
}

// initServices wires the routing service, ledger and orchestrator on
// top of the frozen registry.
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Router = routing.NewService(d.Registry, d.Logger,
		routing.WithDefaultFallbacks(cfg.Routing.DefaultFallbacks))

	d.Ledger = ledger.NewPostgres(d.DB, ledger.Limits{
		DailyCents:   cfg.Budget.DailyLimitCents,
		MonthlyCents: cfg.Budget.MonthlyLimitCents,
	}, d.Logger)

	d.Orchestrator = generation.NewOrchestrator(d.Registry, d.Ledger, d.Logger)
}

// StartWorkers launches background maintenance goroutines. They stop
// when ctx is cancelled.
func (d *Dependencies) StartWorkers(ctx context.Context) {
	if pg, ok := d.Ledger.(*ledger.PostgresLedger); ok {
		go pg.StartCleanupWorker(ctx, 24*time.Hour, 90*24*time.Hour)
	}
}

// Close gracefully shuts down all dependencies.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func adapterConfig(pc config.ProviderConfig) providers.Config {
	return providers.Config{
		APIKey:     pc.APIKey,
		BaseURL:    pc.BaseURL,
		Timeout:    pc.Timeout,
		MaxRetries: pc.MaxRetries,
	}
}
