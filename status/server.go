// Package status serves a read-only HTTP view of a running reflector.
//
//	GET /status   connected nodes, talker and blocked flags as JSON
//	GET /health   liveness probe
//	GET /metrics  prometheus exposition
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector"
)

const shutdownTimeout = 5 * time.Second

// Source provides the snapshot served on /status. *reflector.Reflector satisfies it.
type Source interface {
	Status() reflector.Status
}

// Server is the HTTP status endpoint.
type Server struct {
	addr     string
	router   *gin.Engine
	source   Source
	gatherer prometheus.Gatherer
}

// Health is the /health response body.
type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Talking  bool   `json:"talking"`
	Uptime   string `json:"uptime"`
}

// New builds the router. A nil gatherer serves the default prometheus registry.
func New(addr string, source Source, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	s := &Server{
		addr:     addr,
		router:   router,
		source:   source,
		gatherer: gatherer,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/status", s.getStatus)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the router for embedding or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
		"addr":     ln.Addr().String(),
	}).Info("Status server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) healthCheck(c *gin.Context) {
	st := s.source.Status()
	c.JSON(http.StatusOK, Health{
		Status:   "ok",
		Sessions: st.Sessions,
		Talking:  st.Talker != "",
		Uptime:   st.UpdatedAt.Sub(st.StartedAt).Truncate(time.Second).String(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"function": "status.requestLogger",
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Debug("HTTP request")
	}
}
