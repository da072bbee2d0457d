// Package server exposes the orchestrator over HTTP: a JSON-RPC endpoint with
// newline-delimited streaming for message/stream and tasks/resubscribe, plus
// the published agent card.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/orchestrator"
)

// Config holds HTTP server settings.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AgentName    string
	AgentDesc    string
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		// Streaming responses stay open across many agent calls.
		WriteTimeout: 0,
		AgentName:    "maestro",
		AgentDesc:    "multi-agent workflow orchestrator",
	}
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	orch       *orchestrator.Orchestrator
	agents     *agent.Registry
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	config     Config
}

// New builds the server and its routes.
func New(orch *orchestrator.Orchestrator, agents *agent.Registry, logger *slog.Logger, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		orch:   orch,
		agents: agents,
		engine: engine,
		logger: logger,
		config: cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/", s.handleRPC)
	s.engine.GET("/.well-known/agent.json", s.handleAgentCard)
	s.engine.GET("/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agents": s.agents.Cards()})
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: s.config.ReadTimeout,
	}
	if s.config.WriteTimeout > 0 {
		s.httpServer.WriteTimeout = s.config.WriteTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleAgentCard(c *gin.Context) {
	c.JSON(http.StatusOK, agent.Card{
		Name:        s.config.AgentName,
		Description: s.config.AgentDesc,
		URL:         "http://" + c.Request.Host,
	})
}
