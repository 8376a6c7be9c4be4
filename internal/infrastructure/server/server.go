// Package server wires configuration, logging, metrics and the portal API
// into one runnable HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/rexrelay/rexrelay/internal/api/http"
	"github.com/rexrelay/rexrelay/internal/api/middleware"
	"github.com/rexrelay/rexrelay/internal/dialect"
	"github.com/rexrelay/rexrelay/internal/infrastructure/config"
	"github.com/rexrelay/rexrelay/internal/infrastructure/monitoring"
	"github.com/rexrelay/rexrelay/internal/logging"
	"github.com/rexrelay/rexrelay/internal/portal"
	"github.com/rexrelay/rexrelay/internal/relay/transport"
)

// Server is the assembled relay service.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	registry *portal.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// New builds the server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		built, err := logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = built
	}

	d, err := dialect.ForName(cfg.CMS.Dialect)
	if err != nil {
		return nil, err
	}
	endpoint, err := cfg.CMS.Endpoint()
	if err != nil {
		return nil, err
	}

	logger.Info("initializing relay",
		zap.String("cms", endpoint.String()),
		zap.String("dialect", d.Name),
		zap.Bool("ssl_verify", cfg.CMS.EnableSSLVerify))

	metrics := monitoring.New()
	tr := transport.New(transport.Config{
		Endpoint:  endpoint,
		VerifyTLS: cfg.CMS.EnableSSLVerify,
		Timeout:   cfg.CMS.Timeout,
	}, metrics, logger)

	registry := portal.NewRegistry(cfg.Sessions.TTL, cfg.Sessions.CleanupInterval, logger,
		func(count int) { metrics.SessionsActive.Set(float64(count)) })

	admin := portal.NewMemoryConfig()
	admin.SetAppValue("externalLocation", cfg.CMS.ExternalLocation)
	admin.SetAppValue("dialect", d.Name)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(cfg, d, tr, registry, admin, metrics, logger)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api")
	{
		api.POST("/login", handlers.Login)
		api.POST("/logout", handlers.Logout)
		api.POST("/refresh", handlers.Refresh)
		api.GET("/status", handlers.Status)
		api.GET("/embed", handlers.Embed)
		api.GET("/admin/settings", handlers.GetSettings)
		api.POST("/admin/settings", handlers.SetSetting)
	}

	return &Server{
		router:   router,
		registry: registry,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Run starts serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.Close()
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
