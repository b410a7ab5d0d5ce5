// Package api is the thin chi-routed HTTP adapter over the transcription
// core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/book-expert/transcription-service/internal/dispatcher"
	"github.com/book-expert/transcription-service/internal/middleware"
	"github.com/book-expert/transcription-service/internal/processor"
	"github.com/book-expert/transcription-service/internal/store"
)

// Server wires the HTTP surface to the job store, dispatcher, and
// processor.
type Server struct {
	addr   string
	logger *slog.Logger
	router chi.Router
	server *http.Server

	repo store.Repository
	disp dispatcher.Dispatcher
	proc *processor.Processor

	limiter *middleware.RateLimiter
}

// NewServer constructs the HTTP server with routing and dependencies.
func NewServer(addr string, repo store.Repository, disp dispatcher.Dispatcher, proc *processor.Processor, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger,
		router:  chi.NewRouter(),
		repo:    repo,
		disp:    disp,
		proc:    proc,
		limiter: middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/tasks/process-transcription", s.handleProcessTranscriptionTask)
	r.With(s.limiter.Handler).Get("/transcript/{jobId}", s.handleGetTranscript)
	r.With(s.limiter.Handler).Get("/transcript/search", s.handleSearchTranscripts)
}

// Router exposes the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		defer s.limiter.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}
