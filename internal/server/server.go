// Package server exposes the state of a running orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/version"
)

// SnapshotSource is the part of the progress store the server reads.
type SnapshotSource interface {
	Snapshot() progress.Snapshot
}

// Server serves read-only views of the progress store.
type Server struct {
	store   SnapshotSource
	metrics http.Handler
	engine  *gin.Engine
	log     *logrus.Entry
	srv     *http.Server
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) { s.log = l }
}

// New builds the router.
func New(store SnapshotSource, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: store, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "server")

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(r)
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and serves in the background. It returns the
// bound address, which differs from addr when the port is 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("status server stopped")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("status server listening")
	return ln.Addr().String(), nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/snapshot", s.snapshot)
		v1.GET("/stats", s.stats)
		v1.GET("/report", s.report)
		v1.GET("/tasks/:id", s.task)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Get(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot().Stats())
}

func (s *Server) report(c *gin.Context) {
	c.String(http.StatusOK, progress.Report(s.store.Snapshot()))
}

func (s *Server) task(c *gin.Context) {
	snap := s.store.Snapshot()
	id := c.Param("id")
	task, ok := snap.Task(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":           task,
		"children":       snap.Children(id),
		"subtree_status": snap.SubtreeStatus(id),
	})
}
