// Package server provides the HTTP surface of locksync: health, status and
// metrics endpoints for long-running electors, and an in-memory lock service
// speaking the sidecar protocol.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/locksync/internal/logging"
	"github.com/kneutral-org/locksync/internal/metrics"
)

// NewRouter creates a gin engine with recovery, request logging, /health and
// /metrics.
func NewRouter(logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	// Route on the escaped path so an escaped "/" stays inside a lock name.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	metrics.RegisterMetricsEndpoint(router)

	return router
}

// Server runs an http.Server in the background and shuts it down gracefully.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
	errCh  chan error
}

// New creates a server listening on addr.
func New(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Start begins serving in a goroutine. Listen errors are reported by Err.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("starting HTTP server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
			s.errCh <- err
		}
		close(s.errCh)
	}()
}

// Err returns a channel that yields a listen error, or closes when the
// server stops cleanly.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown stops the server, waiting up to 30 seconds for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.logger.Info().Msg("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}
