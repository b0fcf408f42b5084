// Package api serves a small HTTP interface for inspecting a running
// client: cached queries, store layers, conflicts and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"finance-client/pkg/chain"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"
	memorycollector "finance-client/pkg/metrics/memory"
	"finance-client/pkg/query"
)

// Queries is the part of the query cache the server exposes.
type Queries interface {
	Snapshot() []query.Info
	Invalidate(ctx context.Context, prefixes ...query.Key) (int, error)
	Conflicts() []query.Conflict
}

// Layers reports the store stack.
type Layers interface {
	Status() []chain.LayerStatus
	String() string
}

// HealthFunc checks the backend.
type HealthFunc func(ctx context.Context) error

// Server exposes the query cache and store stack of a running client.
type Server struct {
	queries Queries
	layers  Layers
	metrics metrics.MetricsCollector
	health  HealthFunc
	server  *http.Server
	router  *mux.Router
	config  ServerConfig
	logger  *logging.Logger
	started time.Time
}

type ServerConfig struct {
	Address       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	HealthTimeout time.Duration // bounds the backend check behind /health
}

// DefaultServerConfig binds to loopback only; the server has no auth.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "127.0.0.1:8090",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  10 * time.Second,
		HealthTimeout: 5 * time.Second,
	}
}

type Option func(*Server)

// WithHealth makes /health report the backend state as well.
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l.Named(logging.ComponentAPI) }
}

// NewServer creates a new API server. layers and collector may be nil.
func NewServer(q Queries, layers Layers, collector metrics.MetricsCollector, config ServerConfig, opts ...Option) *Server {
	s := &Server{
		queries: q,
		layers:  layers,
		metrics: metrics.OrNoOp(collector),
		config:  config,
		logger:  logging.OrGlobal(nil, logging.ComponentAPI),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	r.HandleFunc("/queries", s.handleQueries).Methods(http.MethodGet)
	r.HandleFunc("/queries/{key}", s.handleQuery).Methods(http.MethodGet)
	r.HandleFunc("/queries/{key}/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	r.HandleFunc("/conflicts", s.handleConflicts).Methods(http.MethodGet)
	r.HandleFunc("/layers", s.handleLayers).Methods(http.MethodGet)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start returns immediately; listen errors are logged, not returned.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api listen failed", zap.Error(err))
		}
	}()
	s.logger.Info("api listening", zap.String("address", s.config.Address))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// handleHealth reports this process as healthy. With a HealthFunc it also
// checks the backend and answers 503 when it is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
		defer cancel()
		if err := s.health(ctx); err != nil {
			response["status"] = "degraded"
			response["backend"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["backend"] = "ok"
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
		"queries":   len(s.queries.Snapshot()),
		"conflicts": len(s.queries.Conflicts()),
	}
	if s.layers != nil {
		response["layers"] = s.layers.String()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleMetrics delegates to the collector when it can render the
// Prometheus exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if pm, ok := s.metrics.(interface{ Handler() http.Handler }); ok {
		pm.Handler().ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("# collector has no text exposition\n"))
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if mc, ok := s.metrics.(interface {
		Snapshot() memorycollector.Snapshot
	}); ok {
		writeJSON(w, http.StatusOK, mc.Snapshot())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"error": "collector has no JSON snapshot",
	})
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queries.Snapshot())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	for _, info := range s.queries.Snapshot() {
		if info.Key == key {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": "query not cached",
		"key":   key,
	})
}

// handleInvalidate invalidates every query under the given key prefix,
// e.g. POST /queries/chart-data/invalidate covers all periods.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["key"]
	key := query.ParseKey(raw)
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
			"key":   raw,
		})
		return
	}

	n, err := s.queries.Invalidate(r.Context(), key)
	if err != nil {
		s.logger.Warn("invalidate failed", zap.String("key", raw), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":       err.Error(),
			"key":         raw,
			"invalidated": n,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         raw,
		"invalidated": n,
	})
}

type conflictJSON struct {
	Key      string    `json:"key"`
	Mutation string    `json:"mutation"`
	Sequence uint64    `json:"sequence"`
	Applied  uint64    `json:"applied"`
	At       time.Time `json:"at"`
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := s.queries.Conflicts()
	out := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		out[i] = conflictJSON{
			Key:      c.Key.String(),
			Mutation: c.Mutation,
			Sequence: c.Sequence,
			Applied:  c.Applied,
			At:       c.At,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	if s.layers == nil {
		writeJSON(w, http.StatusOK, []chain.LayerStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.layers.Status())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
