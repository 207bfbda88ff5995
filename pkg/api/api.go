// Package api serves test durations over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/ethpandaops/durationoor/pkg/split"
	"github.com/ethpandaops/durationoor/pkg/tracker"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 10 << 20
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	tracker    *tracker.Tracker
	strategy   split.Strategy
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once

	// compileMu serializes compiles triggered over HTTP.
	compileMu sync.Mutex
}

// NewServer creates a new API server. strategy is used for split requests
// that do not name one.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	tr *tracker.Tracker,
	strategy split.Strategy,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		tracker:  tr,
		strategy: strategy,
		done:     make(chan struct{}),
	}
}

// Start binds the listener and serves requests in the background.
func (s *server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
