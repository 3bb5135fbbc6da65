// Package ops exposes the operational HTTP surface: health, Prometheus
// metrics and the last cycle report.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

// StatusBoard holds the most recent cycle report for the /status endpoint.
type StatusBoard struct {
	mu     sync.RWMutex
	report *harvest.CycleReport
}

// Publish records the latest cycle report.
func (b *StatusBoard) Publish(r harvest.CycleReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report = &r
}

// Latest returns the last published report, if any.
func (b *StatusBoard) Latest() (harvest.CycleReport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.report == nil {
		return harvest.CycleReport{}, false
	}
	return *b.report, true
}

// Server serves the ops endpoints.
type Server struct {
	srv    *http.Server
	board  *StatusBoard
	logger *zap.Logger
}

// NewServer builds the ops server on the given port.
func NewServer(port int, board *StatusBoard, logger *zap.Logger) *Server {
	s := &Server{board: board, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown or a listener failure.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.board.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no cycle completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
