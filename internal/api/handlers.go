package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pistonhq/piston/internal/auth"
	"github.com/pistonhq/piston/internal/engine"
	"github.com/pistonhq/piston/internal/task"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		PluginsLoaded: s.registry.Count(),
	})
}

// handleLogin exchanges a configured API key for a short-lived session token
// carrying the same scopes.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		s.writeError(w, http.StatusNotFound, "session tokens are not configured")
		return
	}

	key, err := auth.ExtractBearerToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	principal, ok := auth.AuthenticateKey(key, s.config.Auth.Keys)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.issuer.Issue(principal)
	if err != nil {
		s.logger.Error("failed to issue session token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// handleExecute handles POST /api/v1/execute. Execution is synchronous;
// the plugin's result (or failure) is the response body.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Plugin == "" || req.Action == "" {
		s.writeError(w, http.StatusBadRequest, "plugin and action are required")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "payload must be valid JSON")
			return
		}
	}

	start := time.Now()
	result, err := s.executor.Execute(r.Context(), req.Plugin, req.Action, payload)
	if err != nil {
		s.logger.Warn("execution failed via API",
			"plugin", req.Plugin, "action", req.Action, "error", err)
		respondJSON(w, statusForError(err), ErrorResponse{
			OK: false,
			Error: ErrorBody{
				Kind:    engine.KindOf(err).String(),
				Message: engine.MessageOf(err),
				Plugin:  req.Plugin,
				Action:  req.Action,
			},
		})
		return
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{
		OK:         true,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// statusForError maps engine error kinds to HTTP status codes.
func statusForError(err error) int {
	switch engine.KindOf(err) {
	case engine.KindPluginNotFound, engine.KindActionNotFound:
		return http.StatusNotFound
	case engine.KindTimeout:
		return http.StatusRequestTimeout
	case engine.KindSpawnFailed, engine.KindNonZeroExit:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleListPlugins handles GET /api/v1/plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.List()
	resp := PluginListResponse{Plugins: make([]PluginSummary, 0, len(infos))}
	for _, info := range infos {
		resp.Plugins = append(resp.Plugins, PluginSummary{
			Name:    info.Name,
			Origin:  info.Origin,
			Actions: info.Actions,
			Command: info.Command,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreateTask handles POST /api/v1/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.tasks.Create(r.Context(), task.CreateRequest{
		Name:        req.Name,
		Plugin:      req.Plugin,
		Action:      req.Action,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("task created via API", "task_id", created.ID, "name", created.Name)
	respondJSON(w, http.StatusCreated, created)
}

// handleListTasks handles GET /api/v1/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

// handleGetTask handles GET /api/v1/tasks/{taskID}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeTaskError(w, err, "failed to retrieve task")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleDeleteTask handles DELETE /api/v1/tasks/{taskID}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.writeTaskError(w, err, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetTaskEnabled handles PUT /api/v1/tasks/{taskID}/enabled.
func (s *Server) handleSetTaskEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "taskID")
	if err := s.tasks.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		s.writeTaskError(w, err, "failed to update task")
		return
	}

	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err, "failed to retrieve task")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleRunTask handles POST /api/v1/tasks/{taskID}/run. The task is
// requeued; the runner picks it up on its next tick.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := s.tasks.Requeue(r.Context(), id); err != nil {
		s.writeTaskError(w, err, "failed to requeue task")
		return
	}

	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err, "failed to retrieve task")
		return
	}
	s.logger.Info("task requeued via API", "task_id", id)
	respondJSON(w, http.StatusAccepted, t)
}

// handleListTaskRuns handles GET /api/v1/tasks/{taskID}/runs.
func (s *Server) handleListTaskRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if _, err := s.tasks.Get(r.Context(), id); err != nil {
		s.writeTaskError(w, err, "failed to retrieve task")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	runs, err := s.tasks.Runs(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list task runs", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list task runs")
		return
	}
	if runs == nil {
		runs = []*task.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, task.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.logger.Error(fallback, "error", err)
	s.writeError(w, http.StatusInternalServerError, fallback)
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{OK: false, Error: ErrorBody{Message: message}})
}
