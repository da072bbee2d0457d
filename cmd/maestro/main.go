package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/logging"
	"github.com/maestro-ai/maestro/internal/orchestrator"
	"github.com/maestro-ai/maestro/internal/planner"
	"github.com/maestro-ai/maestro/internal/protocol"
	"github.com/maestro-ai/maestro/internal/server"
	"github.com/maestro-ai/maestro/internal/session"
	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/internal/streaming"
	"github.com/maestro-ai/maestro/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "maestro:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ttl := cfg.sessionTTL()
	sessions := session.NewRegistry(st, ttl)
	tasks := protocol.NewTaskManager(st, ttl)

	var discovery agent.Discovery
	if len(cfg.DiscoveryURLs) > 0 {
		discovery = agent.NewHTTPDiscovery(cfg.DiscoveryURLs)
	}
	agents := agent.NewRegistry(discovery, nil, logger)
	for _, ep := range cfg.Agents {
		card := agent.Card{Name: ep.Name, URL: ep.URL}
		if err := agents.Register(ep.Name, card, agent.NewHTTPExecutor(ep.URL, agent.HTTPExecutorConfig{})); err != nil {
			return fmt.Errorf("register agent %s: %w", ep.Name, err)
		}
	}

	plannerExec, err := agents.Resolve(ctx, cfg.PlannerAgent)
	if err != nil {
		return fmt.Errorf("resolve planner agent %q: %w", cfg.PlannerAgent, err)
	}
	p, err := planner.NewAgentPlanner(plannerExec)
	if err != nil {
		return fmt.Errorf("build planner: %w", err)
	}

	hub := streaming.NewHub()
	orch := orchestrator.New(sessions, tasks, agents, p, hub, logger, orchestrator.Config{
		MaxIterations:   cfg.MaxIterations,
		SummarizerAgent: cfg.SummarizerAgent,
	})

	if cfg.MCP {
		logger.Info("serving MCP on stdio")
		return mcp.NewMaestroServer(mcp.MaestroServerDeps{
			Orchestrator: orch,
			Logger:       logger,
		}).Serve(ctx)
	}

	srv := server.New(orch, agents, logger, server.DefaultConfig())
	return srv.Run(ctx, cfg.ListenAddr)
}

func newStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "libsql":
		if err := os.MkdirAll(maestroDir(), 0o755); err != nil {
			return nil, err
		}
		return store.NewLibSQLStore(ctx, cfg.DBPath)
	case "redis":
		return store.NewRedisStore(ctx, cfg.RedisURL, "maestro:")
	case "", "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
