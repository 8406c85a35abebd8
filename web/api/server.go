package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/wfsync/internal/ctxlog"
	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/runner"
	"github.com/hochfrequenz/wfsync/internal/workflowstore"
)

// Store interface for database operations
type Store interface {
	ListWorkflows() ([]workflowstore.Summary, error)
	GetWorkflow(name string) (*domain.Workflow, error)
}

// Options configures a Server
type Options struct {
	Addr      string
	CacheSize int
	Logger    *slog.Logger
	// Registry receives the API's collectors; nil creates a private one.
	Registry *prometheus.Registry
}

// Server is the HTTP API server
type Server struct {
	store   Store
	runner  *runner.Runner
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	cache   *lru.Cache[string, *runner.Result]
	metrics *Metrics
	logger  *slog.Logger
	started time.Time
}

// NewServer creates a new API server. store may be nil, in which case only
// inline documents can be scheduled.
func NewServer(store Store, r *runner.Runner, opts Options) (*Server, error) {
	if opts.CacheSize < 1 {
		opts.CacheSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if r == nil {
		r = runner.New(runner.Params{})
	}

	cache, err := lru.New[string, *runner.Result](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	m, err := NewMetrics(opts.Registry)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:   store,
		runner:  r,
		addr:    opts.Addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		cache:   cache,
		metrics: m,
		logger:  opts.Logger,
		started: time.Now(),
	}
	s.setupRoutes(opts.Registry)
	return s, nil
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	// API routes
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/workflows", s.listWorkflowsHandler())
	s.mux.HandleFunc("/api/workflows/", s.workflowHandler())
	s.mux.HandleFunc("/api/schedule", s.scheduleHandler())
	s.mux.HandleFunc("/api/compare", s.compareHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())

	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// ServeHTTP attaches the server logger to the request context and routes it
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	ctx := ctxlog.WithLogger(r.Context(), s.logger)

	s.mux.ServeHTTP(rec, r.WithContext(ctx))

	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"elapsed", time.Since(start))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.sseHub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, workflowstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDeadlock):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}
