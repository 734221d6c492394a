package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/doctor"
	"github.com/a-marczewski/aifred/internal/logging"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/orchestrator"
	"github.com/a-marczewski/aifred/internal/personality"
	"github.com/a-marczewski/aifred/internal/storage"
)

const (
	turnTimeout     = 5 * time.Minute
	maxRequestBytes = 64 << 10
)

// Session is the conversation engine the API drives.
type Session interface {
	Submit(ctx context.Context, text string) (orchestrator.TurnResult, error)
	Cancel()
	State() orchestrator.State
	Token() uint64
	VaultItems() []memory.VaultItem
	SearchVault(query string) []memory.VaultItem
	Profile() personality.Profile
	SessionState() conversation.SessionState
}

// Backend supplies the non-session data behind the API.
type Backend interface {
	RefreshModels(ctx context.Context) []string
	TurnStats(ctx context.Context, since time.Time) (storage.TurnStats, error)
	Diagnose(ctx context.Context) *doctor.Diagnostics
}

// Server exposes a session over HTTP
type Server struct {
	session    Session
	backend    Backend
	logger     *zap.Logger
	httpServer *http.Server
	listenAddr string
	startTime  time.Time
	metrics    bool
}

// NewServer creates a new API server. With metricsEnabled the Prometheus
// registry is served on /metrics.
func NewServer(session Session, backend Backend, logger *zap.Logger, listenAddr string, metricsEnabled bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session:    session,
		backend:    backend,
		logger:     logger,
		listenAddr: listenAddr,
		metrics:    metricsEnabled,
	}

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: turnTimeout + 10*time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/turns", s.handleTurn)
	mux.HandleFunc("/v1/turns/cancel", s.handleCancel)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/vault", s.handleVault)
	mux.HandleFunc("/v1/profile", s.handleProfile)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/doctor", s.handleDoctor)
	if s.metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return s.withRequestID(mux)
}

// withRequestID tags every request with an id and a request-scoped logger.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger := s.logger.With(zap.String("request_id", id))
		logger.Debug("API request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))
	})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := logging.LoggerFromContext(r.Context()); ok {
		return logger
	}
	return s.logger
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.startTime = time.Now()
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
