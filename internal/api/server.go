// Package api exposes the operational HTTP interface for a worker process:
// seed task submission, health, and metrics. Production task delivery goes
// through the queue, not this surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
)

// Server wires HTTP handlers to the task queue.
type Server struct {
	router chi.Router
	queue  crawler.TaskQueue
	idGen  crawler.IDGenerator
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(queue crawler.TaskQueue, idGen crawler.IDGenerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:  queue,
		idGen:  idGen,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", s.submitTask)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until the context finishes.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type submitTaskRequest struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Kind     string `json:"kind,omitempty"`
}

type submitTaskResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	kind := crawler.TaskKind(req.Kind)
	if kind == "" {
		kind = crawler.TaskKindListingPage
	}
	id, err := s.idGen.NewID()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "id generation failed")
		return
	}
	task := crawler.CrawlTask{
		TaskID:     id,
		TargetID:   req.TargetID,
		URL:        req.URL,
		Kind:       kind,
		SessionRef: req.TargetID,
	}
	if err := task.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		s.logger.Error("enqueue via api failed", zap.Error(err))
		httpError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitTaskResponse{TaskID: id})
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
