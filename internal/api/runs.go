package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/raie-dev/raie-server/internal/domain"
	"github.com/raie-dev/raie-server/internal/identity"
)

// maxTaskLength bounds the task description a client may submit.
const maxTaskLength = 4000

// runLocks prevents concurrent runs for the same user.
var runLocks sync.Map

// SessionRunner drives the attempt loop for a submitted task. A non-positive
// maxAttempts selects the configured default.
type SessionRunner interface {
	Run(ctx context.Context, userID, task string, maxAttempts int) (*domain.Session, error)
	MaxAttempts() int
}

// RunsHandler handles run-related endpoints.
type RunsHandler struct {
	*Handler
	runner      SessionRunner
	limiter     *RateLimiter
	execTimeout time.Duration
	runnerKind  string
	model       string
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(base *Handler, runner SessionRunner, limiter *RateLimiter, execTimeout time.Duration, runnerKind, model string) *RunsHandler {
	return &RunsHandler{
		Handler:     base,
		runner:      runner,
		limiter:     limiter,
		execTimeout: execTimeout,
		runnerKind:  runnerKind,
		model:       model,
	}
}

// RegisterRoutes registers run routes.
func (h *RunsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", h.StartRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/code", h.DownloadCode)
		r.Delete("/runs", h.ClearRuns)
		r.Get("/config", h.GetConfig)
	})
}

type startRunRequest struct {
	Task        string `json:"task"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// StartRun accepts a task, drives the full attempt loop, and returns the
// finished session. Progress is delivered live over the WebSocket endpoint
// while this request is in flight.
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		Error(w, http.StatusBadRequest, "task cannot be empty")
		return
	}
	if len(task) > maxTaskLength {
		Error(w, http.StatusBadRequest, fmt.Sprintf("task exceeds %d characters", maxTaskLength))
		return
	}

	// One active run per user.
	lock, _ := runLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("run already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "run_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		runLocks.Delete(userID)
	}()

	session, err := h.runner.Run(r.Context(), userID, task, req.MaxAttempts)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			slog.Info("run canceled by client", "user_id", userID)
			return
		}
		slog.Error("run failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "run failed")
		return
	}

	JSON(w, http.StatusOK, session)
}

// ListRuns returns the user's sessions, most recent first, without attempt
// bodies.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{"runs": sessions})
}

// GetRun returns one session with its full attempt history.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.repo.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}

	JSON(w, http.StatusOK, session)
}

// DownloadCode serves a successful run's final code as a Python file.
func (h *RunsHandler) DownloadCode(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.repo.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}
	if session.FinalCode == "" {
		Error(w, http.StatusNotFound, "run has no final code")
		return
	}

	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "generated_code_"+session.ID[:8]+".py"))
	if _, err := w.Write([]byte(session.FinalCode)); err != nil {
		slog.Debug("failed to write code download", "error", err, "session_id", sessionID)
	}
}

// ClearRuns removes all of the user's sessions.
func (h *RunsHandler) ClearRuns(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deleted, err := h.repo.ClearSessions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to clear sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to clear runs")
		return
	}

	slog.Info("sessions cleared", "user_id", userID, "count", deleted)
	JSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// GetConfig returns the server configuration for the frontend.
func (h *RunsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"model":           h.model,
		"max_attempts":    h.runner.MaxAttempts(),
		"timeout_seconds": int(h.execTimeout.Seconds()),
		"runner":          h.runnerKind,
	})
}
