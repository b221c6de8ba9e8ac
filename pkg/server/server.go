// Package server exposes the decision engine over HTTP: evaluation requests,
// revision listing, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/engine"
	"github.com/arbiterhq/arbiter/pkg/engine/memo"
	"github.com/arbiterhq/arbiter/pkg/host"
	"github.com/arbiterhq/arbiter/pkg/storage"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/value"
)

// Options configure a Server.
type Options struct {
	Store   storage.ProgramStore
	Cache   memo.Cache
	Binder  host.Binder
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Server routes evaluation requests to the currently active program revision.
// SwapRevision installs a new revision atomically; in-flight requests keep
// the revision they resolved.
type Server struct {
	store   storage.ProgramStore
	cache   memo.Cache
	binder  host.Binder
	logger  *slog.Logger
	metrics *telemetry.Metrics

	active atomic.Pointer[storage.Revision]
}

// New constructs a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Server{
		store:   opts.Store,
		cache:   opts.Cache,
		binder:  opts.Binder,
		logger:  logger,
		metrics: metrics,
	}
}

// SwapRevision stores a revision and makes it the default for new requests.
func (s *Server) SwapRevision(ctx context.Context, rev *storage.Revision) error {
	if s.store != nil {
		if err := s.store.Save(ctx, rev); err != nil {
			return err
		}
		if ids, err := s.store.List(ctx); err == nil {
			s.metrics.SetRevisionsHeld(len(ids))
		}
	}
	s.active.Store(rev)
	s.logger.Info("revision activated", "revision", rev.ID, "source", rev.Source)
	return nil
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /v1/revisions", s.handleRevisions)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.withRequestLogging(mux)
}

// evaluateRequest is the evaluation wire request. Facts are JSON payloads
// converted to engine values; an empty rule evaluates every exported rule of
// the policy. Revision pins the request to a stored program revision.
type evaluateRequest struct {
	Namespace string         `json:"namespace"`
	Policy    string         `json:"policy"`
	Rule      string         `json:"rule"`
	Facts     map[string]any `json:"facts"`
	Revision  string         `json:"revision"`
}

// evaluateResponse is the evaluation wire response: the decisions that
// succeeded plus one folded error string for the rules that failed.
type evaluateResponse struct {
	Decisions []domain.Decision `json:"decisions"`
	Error     string            `json:"error,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if req.Namespace == "" || req.Policy == "" {
		s.writeError(w, http.StatusBadRequest, "namespace and policy are required")
		return
	}

	rev, err := s.resolveRevision(r.Context(), req.Revision)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	facts := make(map[string]value.Value, len(req.Facts))
	for k, raw := range req.Facts {
		facts[k] = value.FromJSON(raw)
	}

	eng := engine.New(rev.Program, engine.Options{
		Cache:  s.cache,
		Binder: s.binder,
		Logger: s.logger,
	})

	report, err := eng.Evaluate(r.Context(), req.Namespace, req.Policy, req.Rule, facts)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, domain.ErrUnresolvedReference):
			status = http.StatusNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		s.metrics.RecordEvaluation(req.Namespace, req.Policy, "error", time.Since(start))
		s.writeError(w, status, err.Error())
		return
	}

	outcome := "ok"
	if len(report.RuleErrors) > 0 {
		outcome = "partial"
	}
	s.metrics.RecordEvaluation(req.Namespace, req.Policy, outcome, time.Since(start))
	s.metrics.RecordRuleErrors(req.Namespace, req.Policy, len(report.RuleErrors))
	for _, dec := range report.Decisions {
		s.metrics.RecordDecisionState(dec.Decision.State)
	}

	resp := evaluateResponse{Decisions: report.Decisions, Error: report.Err()}
	if resp.Decisions == nil {
		resp.Decisions = []domain.Decision{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// resolveRevision picks the pinned revision when requested, the active one
// otherwise.
func (s *Server) resolveRevision(ctx context.Context, id string) (*storage.Revision, error) {
	if id != "" {
		if s.store == nil {
			return nil, fmt.Errorf("revision pinning requires a store")
		}
		return s.store.Get(ctx, id)
	}
	rev := s.active.Load()
	if rev == nil {
		return nil, fmt.Errorf("no program loaded")
	}
	return rev, nil
}

type revisionsResponse struct {
	Active    string   `json:"active"`
	Revisions []string `json:"revisions"`
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	resp := revisionsResponse{Revisions: []string{}}
	if rev := s.active.Load(); rev != nil {
		resp.Active = rev.ID
	}
	if s.store != nil {
		ids, err := s.store.List(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Revisions = ids
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.active.Load() == nil {
		status = "no program loaded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": status})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLogging tags every request with an ID and records it in the log
// stream and metrics.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s.metrics.RecordHTTPRequest(r.URL.Path, r.Method, fmt.Sprintf("%d", rec.status), duration)

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		} else if rec.status >= 400 {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", duration,
		)
	})
}
