package task

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when a task id or name does not exist.
var ErrNotFound = errors.New("task not found")

// Task is a persisted plugin invocation that the runner executes,
// retrying on failure until max attempts is reached.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Plugin      string          `json:"plugin"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Enabled     bool            `json:"enabled"`
	Status      Status          `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	LastResult  *string         `json:"last_result,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Run is one recorded execution attempt of a task.
type Run struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Plugin      string    `json:"plugin"`
	Action      string    `json:"action"`
	Attempt     int       `json:"attempt"`
	Status      Status    `json:"status"`
	Result      *string   `json:"result,omitempty"`
	Error       *string   `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CreateRequest describes a new task.
type CreateRequest struct {
	Name        string          `json:"name"`
	Plugin      string          `json:"plugin"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}
