package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/querylane/querylane/internal/agent"
	"github.com/querylane/querylane/internal/api"
	"github.com/querylane/querylane/internal/chart"
	"github.com/querylane/querylane/internal/chat"
	"github.com/querylane/querylane/internal/config"
	"github.com/querylane/querylane/internal/conversation"
	"github.com/querylane/querylane/internal/golden"
	"github.com/querylane/querylane/internal/learning"
	"github.com/querylane/querylane/internal/observability"
	"github.com/querylane/querylane/internal/resultstore"
	"github.com/querylane/querylane/internal/sqlrunner"
)

// simulationDelay paces the scripted agent so transports see real
// streaming behavior.
const simulationDelay = 30 * time.Millisecond

const dbConnectTimeout = 5 * time.Second

// Setup creates and initializes the application.
// Returns an App with embedded cleanup, call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.Tracing.Enabled {
		a.otelCleanup = observability.Setup(ctx, observability.Config{
			AgentHost:   cfg.Tracing.AgentHost,
			ServiceName: cfg.Tracing.ServiceName,
			Environment: cfg.Tracing.Environment,
		}, logger)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	if err := provideStores(a, cfg, logger); err != nil {
		return nil, err
	}

	a.Runner = provideRunner(ctx, cfg, logger)

	a.Orchestrator = provideOrchestrator(a, logger)

	return a, nil
}

// provideStores builds the persistence layer under the data directory.
func provideStores(a *App, cfg *config.Config, logger *slog.Logger) error {
	store, err := conversation.NewStore(cfg.SnapshotPath(), cfg.MaxTurns, logger)
	if err != nil {
		return fmt.Errorf("creating conversation store: %w", err)
	}
	a.Conversations = store

	window := time.Duration(cfg.ResultFreshnessWindow) * time.Second
	results, err := resultstore.NewStore(cfg.ResultsDir(), api.ResultsMount, window, logger)
	if err != nil {
		return fmt.Errorf("creating result store: %w", err)
	}
	a.Results = results

	charts, err := chart.NewStore(cfg.ChartsDir(), api.ChartsMount, logger)
	if err != nil {
		return fmt.Errorf("creating chart store: %w", err)
	}
	a.Charts = charts

	learn, err := learning.NewManager(cfg.LearningPath(), logger)
	if err != nil {
		return fmt.Errorf("creating learning manager: %w", err)
	}
	a.Learning = learn

	gold, err := golden.NewStore(cfg.GoldenDBPath(), logger)
	if err != nil {
		return fmt.Errorf("creating golden query store: %w", err)
	}
	a.Golden = gold

	return nil
}

// provideRunner connects to the analytical database. An unreachable
// database degrades the service instead of failing startup: the
// orchestrator then skips the execution branches of its pipeline.
func provideRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) *sqlrunner.Runner {
	connectCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	runner, err := sqlrunner.New(connectCtx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		logger.Warn("analytical database unavailable, SQL execution disabled",
			"host", cfg.PostgresHost,
			"port", cfg.PostgresPort,
			"error", err,
		)
		return nil
	}

	logger.Info("analytical database connected",
		"host", cfg.PostgresHost,
		"database", cfg.PostgresDBName,
	)
	return runner
}

// provideOrchestrator wires the request pipeline. The agent runs in
// simulation mode: a scripted stream stands in until a real model
// integration is configured.
func provideOrchestrator(a *App, logger *slog.Logger) *chat.Orchestrator {
	deps := chat.Deps{
		Agent:    agent.NewScripted(nil, agent.WithDelay(simulationDelay)),
		Store:    a.Conversations,
		Enhancer: conversation.NewEnhancer(a.Conversations),
		Learning: a.Learning,
		Results:  a.Results,
		Charts:   a.Charts,
		Golden:   a.Golden,
	}
	if a.Runner != nil {
		deps.Runner = a.Runner
	}
	return chat.New(deps, logger)
}
