// Package api exposes the live snapshot table, alert history and mute
// control over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/monitor"
)

const (
	defaultRunningUpLimit = 50
	maxRunningUpLimit     = 500
)

// Dashboard provides the latest snapshots and source health.
type Dashboard interface {
	Latest(key string, descending bool) []models.EnrichedSnapshot
	Status() monitor.Status
}

// AlertBook is the mutable alert history.
type AlertBook interface {
	History() []models.Alert
	Dismiss(id string) bool
	Muted() bool
	ToggleMute(ctx context.Context) bool
}

// RunningUpReader lists durable running-up records, newest first.
type RunningUpReader interface {
	RecentRunningUp(ctx context.Context, limit int) ([]models.RunningUpRecord, error)
}

type Server struct {
	engine    *gin.Engine
	dashboard Dashboard
	alerts    AlertBook
	records   RunningUpReader
	started   time.Time
}

// NewServer builds the router. records may be nil.
func NewServer(dashboard Dashboard, alerts AlertBook, records RunningUpReader, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		engine:    gin.New(),
		dashboard: dashboard,
		alerts:    alerts,
		records:   records,
		started:   time.Now(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.getHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/snapshots", s.getSnapshots)
	api.GET("/alerts", s.getAlerts)
	api.DELETE("/alerts/:id", s.deleteAlert)
	api.GET("/mute", s.getMute)
	api.POST("/mute/toggle", s.toggleMute)
	api.GET("/running-up", s.getRunningUp)
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("api request")
	}
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(s.started).Round(time.Second).String()})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"source": s.dashboard.Status(),
		"alerts": len(s.alerts.History()),
		"muted":  s.alerts.Muted(),
	})
}

func (s *Server) getSnapshots(c *gin.Context) {
	key := strings.ToLower(c.DefaultQuery("sort", monitor.SortSymbol))
	if !monitor.ValidSortKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported sort key", "allowed": monitor.SortKeys})
		return
	}
	order := strings.ToLower(c.DefaultQuery("order", "asc"))
	if order != "asc" && order != "desc" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}
	c.JSON(http.StatusOK, s.dashboard.Latest(key, order == "desc"))
}

func (s *Server) getAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.alerts.History())
}

func (s *Server) deleteAlert(c *gin.Context) {
	if !s.alerts.Dismiss(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getMute(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"muted": s.alerts.Muted()})
}

func (s *Server) toggleMute(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"muted": s.alerts.ToggleMute(c.Request.Context())})
}

func (s *Server) getRunningUp(c *gin.Context) {
	if s.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "running-up records unavailable"})
		return
	}
	limit := defaultRunningUpLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunningUpLimit)
	}
	recs, err := s.records.RecentRunningUp(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to list running-up records: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list running-up records"})
		return
	}
	c.JSON(http.StatusOK, recs)
}
