// Package api serves the management HTTP surface: campaign CRUD,
// manual triggers, run history, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"leadpilot/internal/config"
	"leadpilot/internal/orchestrator"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
	http   *http.Server
	router *gin.Engine
}

// New builds the router and handlers.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLog(logger), cors())

	s := &Server{
		orch:   orch,
		logger: logger,
		router: router,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/stats", s.stats)

	c := api.Group("/campaigns")
	c.POST("", s.createCampaign)
	c.GET("", s.listCampaigns)
	c.GET("/:id", s.getCampaign)
	c.PUT("/:id", s.updateCampaign)
	c.DELETE("/:id", s.deleteCampaign)
	c.POST("/:id/run", s.triggerCampaign)
	c.GET("/:id/runs", s.listRuns)
	c.GET("/:id/spending", s.spending)
	c.PUT("/:id/pause", s.pauseCampaign)
	c.PUT("/:id/resume", s.resumeCampaign)
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLog is a minimal structured access log.
func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// cors allows the browser dashboard to call the API from any origin.
// The API carries no cookies so a permissive policy is safe.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
