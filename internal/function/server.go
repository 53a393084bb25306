// Package function implements the custom-handler HTTP surface the Functions
// host invokes. The host owns the timer schedule; this process only exposes
// the invocation endpoint and runs one batch per invocation. There is no
// in-process scheduling and no cancellation of an in-flight run beyond the
// per-run timeout.
package function

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Runner is the narrow interface the invocation handler drives. The concrete
// implementation is *pipeline.Job; tests inject a stub.
type Runner interface {
	Run(ctx context.Context) error
}

// Server holds the invocation dependencies.
type Server struct {
	runner     Runner
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(runner Runner, runTimeout time.Duration, logger *slog.Logger) http.Handler {
	s := &Server{
		runner:     runner,
		runTimeout: runTimeout,
		logger:     logger,
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// The route name matches the function directory the host maps it from.
	r.Post("/TimerInvoiceAutoSendEmail", s.handleTimerInvoke)

	return r
}

// ─── INVOCATION PAYLOADS ─────────────────────────────────────────────────────

// invokeRequest is the host's invocation envelope. For a timer trigger the
// Data map carries one entry keyed by the binding name.
type invokeRequest struct {
	Data     map[string]json.RawMessage `json:"Data"`
	Metadata map[string]json.RawMessage `json:"Metadata"`
}

// timerInfo is the timer binding payload. IsPastDue is set when the host
// missed the schedule (e.g. after a restart); a past-due invocation must do
// no work at all.
type timerInfo struct {
	IsPastDue bool `json:"IsPastDue"`
}

// invokeResponse is the envelope the host expects back.
type invokeResponse struct {
	Outputs     map[string]any `json:"Outputs"`
	Logs        []string       `json:"Logs"`
	ReturnValue any            `json:"ReturnValue"`
}

// ─── HANDLER ─────────────────────────────────────────────────────────────────

func (s *Server) handleTimerInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Error("function: malformed invocation payload", "error", err)
		http.Error(w, "malformed invocation payload", http.StatusBadRequest)
		return
	}

	var timer timerInfo
	if raw, ok := req.Data["timer"]; ok {
		if err := json.Unmarshal(raw, &timer); err != nil {
			s.logger.Error("function: malformed timer payload", "error", err)
			http.Error(w, "malformed timer payload", http.StatusBadRequest)
			return
		}
	}

	if timer.IsPastDue {
		// Running late — skip this invocation entirely. The next on-schedule
		// invocation picks the invoices up; nothing is mutated here.
		s.logger.Info("function: invocation is past due, skipping run")
		s.respond(w, invokeResponse{
			Outputs: map[string]any{},
			Logs:    []string{"Function running late, so it wont run now."},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	if err := s.runner.Run(ctx); err != nil {
		// A non-2xx status makes the host record a failed invocation, which
		// feeds its run history and alerting.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(invokeResponse{
			Outputs: map[string]any{},
			Logs:    []string{"Run failed: " + err.Error()},
		})
		return
	}

	s.respond(w, invokeResponse{
		Outputs: map[string]any{},
		Logs:    []string{"Run completed."},
	})
}

func (s *Server) respond(w http.ResponseWriter, resp invokeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("function: failed to encode response", "error", err)
	}
}
