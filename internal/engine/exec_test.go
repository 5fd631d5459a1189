package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func testInvoker() *Invoker {
	return NewInvoker(5*time.Second, 200*time.Millisecond, 0, nil)
}

func TestInvokeJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	// Last argv element is the JSON payload; print it verbatim.
	cmd := writeScript(t, dir, "echo-json.sh", `printf '%s' "$2"`)

	inv := testInvoker()
	result, err := inv.Invoke(context.Background(), &Descriptor{Name: "echo-json", Command: cmd}, "run", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded object, got %T (%v)", result, result)
	}
	if m["x"] != float64(1) {
		t.Fatalf("payload did not round-trip: %v", m)
	}
}

func TestInvokePlainTextFallback(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "plain.sh", `echo "hello"`)

	inv := testInvoker()
	result, err := inv.Invoke(context.Background(), &Descriptor{Name: "plain", Command: cmd}, "run", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected string fallback %q, got %v", "hello", result)
	}
}

func TestInvokeNonZeroExitCarriesStderr(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "boom.sh", `echo "boom" >&2
exit 2`)

	inv := testInvoker()
	_, err := inv.Invoke(context.Background(), &Descriptor{Name: "boom", Command: cmd}, "run", nil)
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if KindOf(err) != KindNonZeroExit {
		t.Fatalf("expected KindNonZeroExit, got %v", KindOf(err))
	}
	if MessageOf(err) != "boom" {
		t.Fatalf("expected stderr %q as message, got %q", "boom", MessageOf(err))
	}
}

func TestInvokeNonZeroExitEmptyStderr(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "silent.sh", `exit 1`)

	inv := testInvoker()
	_, err := inv.Invoke(context.Background(), &Descriptor{Name: "silent", Command: cmd}, "run", nil)
	if KindOf(err) != KindNonZeroExit {
		t.Fatalf("expected KindNonZeroExit, got %v", err)
	}
	if MessageOf(err) != "external plugin failed" {
		t.Fatalf("expected generic message, got %q", MessageOf(err))
	}
}

func TestInvokeSpawnFailure(t *testing.T) {
	inv := testInvoker()
	_, err := inv.Invoke(context.Background(), &Descriptor{Name: "ghost", Command: "/nonexistent/binary"}, "run", nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if KindOf(err) != KindSpawnFailed {
		t.Fatalf("spawn failure must be distinct from nonzero exit, got %v", KindOf(err))
	}
}

func TestInvokeArgvOrder(t *testing.T) {
	dir := t.TempDir()
	// Echo every argument on its own line.
	cmd := writeScript(t, dir, "args.sh", `for a in "$@"; do echo "$a"; done`)

	inv := testInvoker()
	result, err := inv.Invoke(context.Background(), &Descriptor{
		Name:    "args",
		Command: cmd,
		Args:    []string{"--mode", "fast"},
	}, "transform", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	want := "--mode\nfast\ntransform\n{\"k\":\"v\"}"
	if result != want {
		t.Fatalf("argv order wrong:\nwant %q\ngot  %q", want, result)
	}
}

func TestInvokeNilPayloadSendsEmptyObject(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "last.sh", `printf '%s' "$2"`)

	inv := testInvoker()
	result, err := inv.Invoke(context.Background(), &Descriptor{Name: "last", Command: cmd}, "run", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("expected empty object for nil payload, got %v", result)
	}
}

func TestInvokeWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	if err := os.Mkdir(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cmd := writeScript(t, dir, "pwd.sh", `pwd`)

	inv := testInvoker()
	result, err := inv.Invoke(context.Background(), &Descriptor{Name: "pwd", Command: cmd, Dir: workDir}, "run", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got, ok := result.(string)
	if !ok {
		t.Fatalf("expected string, got %T", result)
	}
	// Resolve symlinks: macOS TempDir lives under /var -> /private/var.
	want, _ := filepath.EvalSymlinks(workDir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("expected cwd %q, got %q", want, gotResolved)
	}
}

func TestInvokeTimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "sleepy.sh", `sleep 30`)

	inv := NewInvoker(150*time.Millisecond, 100*time.Millisecond, 0, nil)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), &Descriptor{Name: "sleepy", Command: cmd}, "run", nil)
	elapsed := time.Since(start)

	if KindOf(err) != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout enforcement too slow: %v", elapsed)
	}
}

func TestInvokeDescriptorTimeoutOverride(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "sleepy.sh", `sleep 30`)

	// Engine default is generous; the descriptor tightens it.
	inv := NewInvoker(time.Minute, 100*time.Millisecond, 0, nil)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), &Descriptor{Name: "sleepy", Command: cmd, Timeout: "150ms"}, "run", nil)
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("descriptor timeout was not applied")
	}
}

func TestInvokeContextCancellation(t *testing.T) {
	dir := t.TempDir()
	cmd := writeScript(t, dir, "sleepy.sh", `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	inv := testInvoker()
	start := time.Now()
	_, err := inv.Invoke(ctx, &Descriptor{Name: "sleepy", Command: cmd}, "run", nil)
	if KindOf(err) != KindCanceled {
		t.Fatalf("expected KindCanceled, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("cancellation did not terminate the subprocess promptly")
	}
}

func TestInvokeConcurrentCallsAreIndependent(t *testing.T) {
	dir := t.TempDir()
	// Each invocation sleeps a payload-independent jitter, then echoes its payload.
	cmd := writeScript(t, dir, "jitter.sh", `sleep 0.0$(($$ % 5))
printf '%s' "$2"`)

	inv := testInvoker()

	const n = 8
	type outcome struct {
		i      int
		result any
		err    error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			d := &Descriptor{Name: fmt.Sprintf("jitter-%d", i), Command: cmd}
			res, err := inv.Invoke(context.Background(), d, "run", map[string]any{"call": i})
			results <- outcome{i: i, result: res, err: err}
		}(i)
	}

	for i := 0; i < n; i++ {
		out := <-results
		if out.err != nil {
			t.Fatalf("call %d failed: %v", out.i, out.err)
		}
		m, ok := out.result.(map[string]any)
		if !ok || m["call"] != float64(out.i) {
			t.Fatalf("call %d got someone else's result: %v", out.i, out.result)
		}
	}
}
