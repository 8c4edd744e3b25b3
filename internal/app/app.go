// Package app wires the application together: configuration, stores, the
// query runner, the agent and the orchestrator. Setup builds everything,
// Close releases it.
package app

import (
	"errors"
	"log/slog"

	"github.com/querylane/querylane/internal/chart"
	"github.com/querylane/querylane/internal/chat"
	"github.com/querylane/querylane/internal/config"
	"github.com/querylane/querylane/internal/conversation"
	"github.com/querylane/querylane/internal/golden"
	"github.com/querylane/querylane/internal/learning"
	"github.com/querylane/querylane/internal/resultstore"
	"github.com/querylane/querylane/internal/sqlrunner"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Conversations *conversation.Store
	Results       *resultstore.Store
	Charts        *chart.Store
	Learning      *learning.Manager
	Golden        *golden.Store

	// Runner is nil when the analytical database is unreachable; the
	// service then runs with SQL execution disabled.
	Runner *sqlrunner.Runner

	Orchestrator *chat.Orchestrator

	otelCleanup func()
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	var errs []error

	if a.Runner != nil {
		a.Runner.Close()
	}
	if a.Golden != nil {
		if err := a.Golden.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return errors.Join(errs...)
}
