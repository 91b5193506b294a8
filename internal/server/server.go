// Package server provides the HTTP server for the mudra sign recognition system.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/signs"
	"github.com/ayusman/mudra/internal/store"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Settings  *session.Settings
	Catalog   *signs.Catalog

	// Publisher receives every prediction from WebSocket sessions when non-nil.
	Publisher session.Publisher

	// Prediction client settings for WebSocket sessions.
	HTTPClient *http.Client
	Timeout    time.Duration
	Policy     batch.Policy
	QueueLimit int
}

// Server represents the HTTP server for the mudra application.
type Server struct {
	config    Config
	mux       *http.ServeMux
	landmarks *LandmarksHandler
	start     time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Settings == nil {
		config.Settings = session.NewSettings(session.DefaultSnapshot())
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Settings, s.config.Store))

	s.landmarks = NewLandmarksHandler(s.config)
	s.mux.Handle("/api/landmarks", s.landmarks)

	if s.config.Store != nil {
		predictions := api.NewPredictionsHandler(s.config.Store)
		s.mux.Handle("/api/predictions", predictions)
		s.mux.Handle("/api/predictions/", predictions)
	}

	if s.config.Catalog != nil {
		signsHandler := api.NewSignsHandler(s.config.Catalog)
		s.mux.Handle("/api/signs", signsHandler)
		s.mux.Handle("/api/signs/", signsHandler)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(s.start).Round(time.Second).String(),
		"sessions": s.landmarks.Active(),
		"mode":     s.config.Settings.Snapshot().Mode,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
