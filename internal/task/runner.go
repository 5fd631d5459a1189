package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pistonhq/piston/internal/engine"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/pistonhq/piston/internal/task Executor

// Executor runs a plugin action. The engine dispatcher satisfies this.
type Executor interface {
	Execute(ctx context.Context, plugin, action string, payload any) (any, error)
}

// TaskStore is the persistence surface the runner needs.
type TaskStore interface {
	ClaimDue(ctx context.Context, now time.Time) (*Task, error)
	CompleteSuccess(ctx context.Context, t *Task, result string, startedAt time.Time) error
	CompleteFailure(ctx context.Context, t *Task, execErr string, nextRetryAt *time.Time, startedAt time.Time) error
	RecoverOrphans(ctx context.Context) (int, error)
}

// Runner drains due tasks on a tick, executing each through the dispatcher
// and retrying failures with exponential backoff.
type Runner struct {
	store        TaskStore
	executor     Executor
	tickInterval time.Duration
	backoffBase  time.Duration
	logger       *slog.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

func NewRunner(store TaskStore, executor Executor, tickInterval, backoffBase time.Duration, logger *slog.Logger) *Runner {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:        store,
		executor:     executor,
		tickInterval: tickInterval,
		backoffBase:  backoffBase,
		logger:       logger.With("component", "runner"),
		stopCh:       make(chan struct{}),
	}
}

// Start performs crash recovery and begins the tick loop.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting task runner")

	recovered, err := r.store.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("task runner crash recovery failed: %w", err)
	}
	if recovered > 0 {
		r.logger.Warn("Recovered orphaned tasks", "count", recovered)
	}

	r.wg.Add(1)
	go r.tickLoop(ctx)
	return nil
}

// Stop gracefully stops the runner.
func (r *Runner) Stop() {
	r.logger.Info("Stopping task runner")
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Task runner stopped")
}

func (r *Runner) tickLoop(ctx context.Context) {
	defer r.wg.Done()

	r.Tick(ctx)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Tick(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			r.logger.Warn("Task runner context cancelled, stopping tick loop")
			return
		}
	}
}

// Tick claims and executes every task that is due right now.
func (r *Runner) Tick(ctx context.Context) {
	for {
		t, err := r.store.ClaimDue(ctx, time.Now())
		if err != nil {
			r.logger.Error("Failed to claim due task", "error", err)
			return
		}
		if t == nil {
			return
		}
		r.runOne(ctx, t)
	}
}

func (r *Runner) runOne(ctx context.Context, t *Task) {
	startedAt := time.Now().UTC()
	log := r.logger.With("task_id", t.ID, "plugin", t.Plugin, "action", t.Action, "attempt", t.Attempt)
	log.Info("Executing task")

	var payload any
	if len(t.Payload) > 0 {
		if err := json.Unmarshal(t.Payload, &payload); err != nil {
			r.fail(ctx, t, fmt.Errorf("invalid task payload: %w", err), false, startedAt, log)
			return
		}
	}

	result, err := r.executor.Execute(ctx, t.Plugin, t.Action, payload)
	if err != nil {
		r.fail(ctx, t, err, retryable(err), startedAt, log)
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", result))
	}
	if err := r.store.CompleteSuccess(ctx, t, string(encoded), startedAt); err != nil {
		log.Error("Failed to record task success", "error", err)
		return
	}
	log.Info("Task succeeded")
}

func (r *Runner) fail(ctx context.Context, t *Task, execErr error, canRetry bool, startedAt time.Time, log *slog.Logger) {
	var nextRetryAt *time.Time
	if canRetry && t.Attempt < t.MaxAttempts {
		at := time.Now().UTC().Add(r.backoff(t.Attempt))
		nextRetryAt = &at
	}

	if err := r.store.CompleteFailure(ctx, t, execErr.Error(), nextRetryAt, startedAt); err != nil {
		log.Error("Failed to record task failure", "error", err)
		return
	}

	if nextRetryAt != nil {
		log.Warn("Task failed, retry scheduled", "error", execErr, "next_retry_at", nextRetryAt)
	} else {
		log.Error("Task failed permanently", "error", execErr)
	}
}

// retryable reports whether retrying could plausibly change the outcome.
// Unknown plugins and actions never heal on retry.
func retryable(err error) bool {
	switch engine.KindOf(err) {
	case engine.KindPluginNotFound, engine.KindActionNotFound, engine.KindManifest:
		return false
	default:
		return true
	}
}

// backoff returns base * 2^(attempt-1), capped at one hour.
func (r *Runner) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := r.backoffBase << (attempt - 1)
	if d > time.Hour || d <= 0 {
		return time.Hour
	}
	return d
}

var _ Executor = (*engine.Dispatcher)(nil)
