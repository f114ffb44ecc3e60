package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	gmcp "github.com/firebase/genkit/go/plugins/mcp"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/backend"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/knowledge"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/tools"
)

// Setup initializes the application. Call Close on the returned App
// to release resources; on error everything already initialized is
// cleaned up before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must precede Genkit init so spans land on a provider
	// that already has the exporter registered.
	if cfg.Observability.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Observability.Endpoint,
			ServiceName: cfg.Observability.ServiceName,
			Environment: cfg.Observability.Environment,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.otelShutdown = shutdown
	}

	if cfg.Storage == config.StoragePostgres {
		pool, err := providePool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
	}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Embedder = provideEmbedder(g, cfg)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.Sessions = provideSessionStore(a.Pool, cfg, logger)

	if a.Pool != nil {
		a.Knowledge = knowledge.NewStore(a.Pool, a.Embedder, logger)
	}

	var sources []backend.ToolSource

	if cfg.UseTools && a.Knowledge != nil {
		registered := tools.Register(g, a.Knowledge, cfg.AllowedSources, logger)
		sources = append(sources, tools.NewSource(registered))
	}

	if cfg.UseTools && len(cfg.MCPServers) > 0 {
		mcpSource, err := mcp.NewSource(ctx, g, mcpServerConfigs(cfg.MCPServers), logger)
		if err != nil {
			return nil, fmt.Errorf("connecting MCP servers: %w", err)
		}
		a.MCP = mcpSource
		sources = append(sources, mcpSource)
	}

	orch, err := provideOrchestrator(g, cfg, a.Sessions, sources, logger)
	if err != nil {
		return nil, err
	}
	a.Orchestrator = orch

	server, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orch,
		Pool:         a.Pool,
		CORSOrigins:  cfg.CORSOrigins,
		IsDev:        cfg.IsDev,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	return a, nil
}

// providePool runs migrations, then creates and pings the pgx pool.
func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured provider.
// Ollama needs explicit model and embedder registration; Google AI
// discovers models from the API key.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	default: // googleai
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit with googleai provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Ollama keys embedders by server address.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	if cfg.Provider == config.ProviderOllama {
		return ollama.Embedder(g, cfg.OllamaHost)
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

func provideSessionStore(pool *pgxpool.Pool, cfg *config.Config, logger log.Logger) session.Store {
	if pool != nil {
		return session.NewPGStore(pool, cfg.MaxHistoryTurns, logger)
	}
	return session.NewMemoryStore(cfg.MaxHistoryTurns, logger)
}

func provideOrchestrator(g *genkit.Genkit, cfg *config.Config, store session.Store, sources []backend.ToolSource, logger log.Logger) (*gateway.Orchestrator, error) {
	model := cfg.FullModelName()

	plain := backend.NewPlain(g, model, cfg.SystemPrompt, cfg.Temperature, logger)

	var tooled backend.Generator
	if len(sources) > 0 {
		tooled = backend.NewTooled(g, model, cfg.SystemPrompt, cfg.Temperature, cfg.MaxTurns, logger, sources...)
	}

	orch, err := gateway.New(gateway.Config{
		Plain:   plain,
		Tooled:  tooled,
		Store:   store,
		Logger:  logger,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	return orch, nil
}

// mcpServerConfigs converts configured MCP servers to stdio client
// options.
func mcpServerConfigs(servers []config.MCPServer) []mcp.ServerConfig {
	configs := make([]mcp.ServerConfig, len(servers))
	for i, s := range servers {
		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		configs[i] = mcp.ServerConfig{
			Name: s.Name,
			ClientOptions: gmcp.MCPClientOptions{
				Name: s.Name,
				Stdio: &gmcp.StdioConfig{
					Command: s.Command,
					Args:    s.Args,
					Env:     env,
				},
			},
		}
	}
	return configs
}
