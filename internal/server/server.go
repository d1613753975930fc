// Package server exposes the HTTP surface: the gate-protected API, the
// key administration endpoints and the operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apisentinel/sentinel/internal/config"
	"github.com/apisentinel/sentinel/internal/gate"
	"github.com/apisentinel/sentinel/internal/identity"
	"github.com/apisentinel/sentinel/internal/keystore"
	"github.com/apisentinel/sentinel/internal/ledger"
	"github.com/apisentinel/sentinel/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Gate   *gate.Gate
	Keys   *keystore.Manager
	Owners identity.Provider
	Events ledger.Ledger
}

// Server is the HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	deps       Deps
	logger     observability.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Server with its routes registered.
func New(cfg config.ServerConfig, deps Deps, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogging(logger))

	s := &Server{
		engine: engine,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api", requireKey(s.deps.Gate))
	api.GET("/protected", s.handleProtected)

	admin := s.engine.Group("/admin", adminAuth(s.cfg.AdminToken, s.logger))
	admin.POST("/keys/bulk", s.handleBulkGenerate)
	admin.POST("/rotate", s.handleRotate)
	admin.POST("/keys/:owner", s.handleGenerate)
	admin.DELETE("/keys/:owner", s.handleRevoke)
	admin.POST("/keys/:owner/regenerate", s.handleRegenerate)
	admin.GET("/keys/:owner/reveal", s.handleReveal)
	admin.POST("/keys/:owner/block", s.setBlockedHandler(true))
	admin.POST("/keys/:owner/unblock", s.setBlockedHandler(false))
	admin.GET("/keys/:owner/usage", s.handleUsage)
}

// Start runs the server until it fails or Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", observability.String("addr", s.cfg.ListenAddr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}
