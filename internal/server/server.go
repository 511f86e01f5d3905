package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/ingest"
	"github.com/headline-goat/variant-goat/internal/logging"
	"github.com/headline-goat/variant-goat/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	// ingestTimeout bounds the work done for one tracking request.
	ingestTimeout = 2 * time.Second
)

type Options struct {
	Port       int
	TokenFile  string // Admin token is written here when set
	CSRFSecret []byte
}

type Server struct {
	store     store.Store
	registry  *experiment.Registry
	ingest    *ingest.Service
	csrf      *csrfSigner
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
	logger    *slog.Logger
}

func New(s store.Store, opts Options) *Server {
	registry := experiment.NewRegistry(s)
	srv := &Server{
		store:     s,
		registry:  registry,
		ingest:    ingest.NewService(registry, s),
		csrf:      newCSRFSigner(opts.CSRFSecret),
		port:      opts.Port,
		token:     generateToken(),
		tokenFile: opts.TokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		logger:    logging.New("server"),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/vg.js", s.handleTrackerJS)
	s.router.HandleFunc("/session", s.handleSession)
	s.router.HandleFunc("/assign", s.handleAssign)
	s.router.Handle("/events", s.csrfMiddleware(http.HandlerFunc(s.handleEvents)))

	// Admin endpoints (protected)
	s.router.Handle("GET /api/experiments", s.authMiddleware(http.HandlerFunc(s.handleListExperiments)))
	s.router.Handle("GET /api/experiments/{id}/stats", s.authMiddleware(http.HandlerFunc(s.handleStats)))
	s.router.Handle("GET /api/experiments/{id}/stats/daily", s.authMiddleware(http.HandlerFunc(s.handleDailyStats)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a time-derived token if crypto/rand fails
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
