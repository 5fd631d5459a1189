package api

import (
	"encoding/json"
	"time"
)

// ExecuteRequest is the JSON body for POST /api/v1/execute.
type ExecuteRequest struct {
	Plugin  string          `json:"plugin"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ExecuteResponse is returned when execution succeeds.
type ExecuteResponse struct {
	OK         bool  `json:"ok"`
	Result     any   `json:"result"`
	DurationMs int64 `json:"duration_ms"`
}

// ErrorBody describes a failed execution.
type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Plugin  string `json:"plugin,omitempty"`
	Action  string `json:"action,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

// PluginListResponse is returned by GET /api/v1/plugins.
type PluginListResponse struct {
	Plugins []PluginSummary `json:"plugins"`
}

// PluginSummary describes one registered plugin.
type PluginSummary struct {
	Name    string   `json:"name"`
	Origin  string   `json:"origin"`
	Actions []string `json:"actions,omitempty"`
	Command string   `json:"command,omitempty"`
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Name        string          `json:"name"`
	Plugin      string          `json:"plugin"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// SetEnabledRequest is the JSON body for PUT /api/v1/tasks/{id}/enabled.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// LoginResponse is returned by POST /api/v1/login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PluginsLoaded int    `json:"plugins_loaded"`
}
