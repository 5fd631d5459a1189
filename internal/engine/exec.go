package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// defaultExecTimeout bounds an external invocation when neither the
	// engine config nor the descriptor sets one.
	defaultExecTimeout = 60 * time.Second

	// defaultGracePeriod is the wait after SIGTERM before SIGKILL.
	defaultGracePeriod = 5 * time.Second

	// defaultMaxStderrBytes caps captured stderr from plugin processes.
	defaultMaxStderrBytes = 64 * 1024
)

// Invoker bridges one Execute call to one subprocess lifecycle. It is safe
// for concurrent use; each invocation owns its own process and buffers.
type Invoker struct {
	timeout   time.Duration
	grace     time.Duration
	maxStderr int
	logger    *slog.Logger
}

// NewInvoker creates an Invoker. Zero values fall back to defaults.
func NewInvoker(timeout, grace time.Duration, maxStderr int, logger *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	if maxStderr <= 0 {
		maxStderr = defaultMaxStderrBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{timeout: timeout, grace: grace, maxStderr: maxStderr, logger: logger}
}

// Invoke spawns the descriptor's command with the action name and the
// JSON-encoded payload appended to its argv, collects stdout/stderr, and
// normalizes the outcome:
//
//   - exit 0: trimmed stdout decoded as JSON, raw string fallback
//   - exit != 0: KindNonZeroExit carrying captured stderr
//   - could not start: KindSpawnFailed wrapping the OS error
//   - deadline hit: process terminated, KindTimeout
//   - ctx canceled: process terminated, KindCanceled
//
// Arguments are passed as an argv vector; nothing is ever handed to a shell.
func (v *Invoker) Invoke(ctx context.Context, d *Descriptor, action string, payload any) (any, error) {
	encoded := "{}"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, newError(KindExecutionFailed, d.Name, action, fmt.Sprintf("encode payload: %v", err), err)
		}
		encoded = string(b)
	}

	args := make([]string, 0, len(d.Args)+2)
	args = append(args, d.Args...)
	args = append(args, action, encoded)

	cmd := exec.Command(d.Command, args...)
	cmd.Dir = d.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := v.logger.With("plugin", d.Name, "command", d.Command)
	logger.Debug("spawning external plugin", "action", action)

	if err := cmd.Start(); err != nil {
		return nil, newError(KindSpawnFailed, d.Name, action, fmt.Sprintf("start %q: %v", d.Command, err), err)
	}

	timeout := v.timeout
	if t, ok := d.ExecTimeout(); ok {
		timeout = t
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		v.terminate(cmd, waitErr, logger)
		return nil, newError(KindCanceled, d.Name, action, "invocation canceled", ctx.Err())

	case <-timer.C:
		logger.Warn("external plugin timed out", "timeout", timeout)
		v.terminate(cmd, waitErr, logger)
		return nil, newError(KindTimeout, d.Name, action,
			fmt.Sprintf("external plugin timed out after %v", timeout), context.DeadlineExceeded)

	case err := <-waitErr:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				msg := strings.TrimSpace(v.truncate(stderr.String()))
				if msg == "" {
					msg = "external plugin failed"
				}
				logger.Warn("external plugin exited nonzero", "exit_code", exitErr.ExitCode())
				return nil, newError(KindNonZeroExit, d.Name, action, msg, err)
			}
			return nil, newError(KindSpawnFailed, d.Name, action, fmt.Sprintf("wait for process: %v", err), err)
		}
		return decodeResult(stdout.Bytes()), nil
	}
}

// terminate escalates SIGTERM -> grace period -> SIGKILL and reaps the
// process so nothing is left in the process table.
func (v *Invoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(v.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Debug("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func (v *Invoker) truncate(s string) string {
	if len(s) > v.maxStderr {
		return s[:v.maxStderr]
	}
	return s
}

// decodeResult interprets successful plugin output: JSON when stdout parses
// as JSON, the trimmed raw string otherwise. Both modes are supported on
// purpose; some plugins emit structured results, some plain text.
func decodeResult(stdout []byte) any {
	trimmed := strings.TrimSpace(string(stdout))
	if trimmed == "" {
		return ""
	}
	var result any
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return trimmed
	}
	return result
}
