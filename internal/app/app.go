// Package app assembles the application from its components: config,
// database, Genkit, knowledge store, tool sources, orchestrator, and
// the HTTP server. Entry points call Setup once and work against the
// returned App.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/knowledge"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/session"
)

// App is the application container. Fields are nil when the
// configuration disables the component: Pool and Knowledge require
// postgres storage, MCP requires configured servers.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit       *genkit.Genkit
	Embedder     ai.Embedder
	Pool         *pgxpool.Pool
	Sessions     session.Store
	Knowledge    *knowledge.Store
	MCP          *mcp.Source
	Orchestrator *gateway.Orchestrator
	Server       *api.Server

	otelShutdown func(context.Context) error
}

// Close releases resources in reverse initialization order. Safe to
// call on a partially constructed App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
