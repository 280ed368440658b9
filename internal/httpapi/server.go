package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/steady/internal/coach"
	"github.com/antoniostano/steady/internal/config"
	"github.com/antoniostano/steady/internal/experiment"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/memory"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/session"
)

// MemoryService is the slice of the memory store the API exposes.
type MemoryService interface {
	Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Result, error)
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteUser(ctx context.Context, userID string) error
	BackendName() string
}

// Deps wires the server to the rest of the service. Memory and Experiments
// are optional; their routes answer 503 when unset.
type Deps struct {
	Lifecycle   *coach.Lifecycle
	Risk        coach.RiskAssessor
	Memory      MemoryService
	Experiments *experiment.Service
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	// Provider is the completion provider name reported by /readyz; empty means none.
	Provider string
}

type Server struct {
	cfg         config.Config
	lifecycle   *coach.Lifecycle
	risk        coach.RiskAssessor
	memory      MemoryService
	experiments *experiment.Service
	metrics     *observability.Metrics
	logger      *slog.Logger
	provider    string
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace, nil)
	}
	return &Server{
		cfg:         cfg,
		lifecycle:   deps.Lifecycle,
		risk:        deps.Risk,
		memory:      deps.Memory,
		experiments: deps.Experiments,
		metrics:     metrics,
		logger:      logging.OrDefault(deps.Logger),
		provider:    deps.Provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a chat socket unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/messages", s.handleSessionMessage)
		r.Post("/{id}/pause", s.handlePauseSession)
		r.Post("/{id}/resume", s.handleResumeSession)
		r.Post("/{id}/end", s.handleEndSession)
	})

	r.Post("/v1/risk/assess", s.handleAssessRisk)

	r.Route("/v1/memory/{user_id}", func(r chi.Router) {
		r.Get("/", s.handleRetrieveMemory)
		r.Delete("/", s.handleDeleteUserMemory)
		r.Delete("/{session_id}", s.handleDeleteSessionMemory)
	})

	r.Route("/v1/experiments", func(r chi.Router) {
		r.Post("/", s.handleCreateExperiment)
		r.Get("/", s.handleListExperiments)
		r.Get("/{id}", s.handleGetExperiment)
		r.Post("/{id}/start", s.handleStartExperiment)
		r.Post("/{id}/pause", s.handlePauseExperiment)
		r.Post("/{id}/complete", s.handleCompleteExperiment)
		r.Get("/{id}/report", s.handleExperimentReport)
	})
	r.Post("/v1/assignments", s.handleAssign)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports which optional components are live. Missing generation
// is reported as degraded: safety replies still work without it.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	provider := s.provider
	if provider == "" {
		status = "degraded"
		provider = "none"
	}
	backend := "disabled"
	if s.memory != nil {
		backend = s.memory.BackendName()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              status,
		"completion_provider": provider,
		"memory_backend":      backend,
		"experiments_enabled": s.experiments != nil,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondErr maps a domain error onto its HTTP status and error code.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.Any("error", err),
		)
	}
	respondError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, experiment.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, coach.ErrEmptyMessage),
		errors.Is(err, coach.ErrMessageTooLong),
		errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, experiment.ErrInvalidExperiment),
		errors.Is(err, experiment.ErrInvalidMetric),
		errors.Is(err, memory.ErrInvalidRecord):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrCompleted):
		return http.StatusConflict, "session_completed"
	case errors.Is(err, session.ErrPaused):
		return http.StatusConflict, "session_paused"
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, experiment.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, experiment.ErrMetricsFrozen):
		return http.StatusConflict, "metrics_frozen"
	case errors.Is(err, coach.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, coach.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, "generation_unavailable"
	case errors.Is(err, memory.ErrMemoryUnavailable), errors.Is(err, memory.ErrEmbeddingFailed):
		return http.StatusServiceUnavailable, "memory_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
