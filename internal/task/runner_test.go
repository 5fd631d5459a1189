package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pistonhq/piston/internal/engine"
	"github.com/pistonhq/piston/internal/task/mocks"
)

func TestRunnerExecutesDueTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{
		Name:    "echo-task",
		Plugin:  "echo",
		Action:  "echo",
		Payload: json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), "echo", "echo", map[string]any{"msg": "hi"}).
		Return(map[string]any{"msg": "hi"}, nil)

	runner := NewRunner(store, executor, time.Second, time.Second, nil)
	runner.Tick(ctx)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.LastResult)
	assert.JSONEq(t, `{"msg":"hi"}`, *got.LastResult)
}

func TestRunnerSchedulesRetryOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{Name: "flaky", Plugin: "p", Action: "a"})
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), "p", "a", gomock.Any()).
		Return(nil, errors.New("transient failure"))

	runner := NewRunner(store, executor, time.Second, 5*time.Second, nil)
	runner.Tick(ctx)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(time.Now()))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "transient failure", *got.LastError)
}

func TestRunnerDoesNotRetryUnknownPlugin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{Name: "missing", Plugin: "ghost", Action: "a"})
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), "ghost", "a", gomock.Any()).
		Return(nil, &engine.Error{Kind: engine.KindPluginNotFound, Plugin: "ghost", Message: "plugin not found"})

	runner := NewRunner(store, executor, time.Second, time.Second, nil)
	runner.Tick(ctx)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Nil(t, got.NextRetryAt)
}

func TestRunnerExhaustsAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{Name: "doomed", Plugin: "p", Action: "a", MaxAttempts: 2})
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), "p", "a", gomock.Any()).
		Return(nil, errors.New("always fails")).
		Times(2)

	runner := NewRunner(store, executor, time.Second, time.Nanosecond, nil)
	runner.Tick(ctx)

	// First failure leaves one attempt remaining.
	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// Wait out the tiny backoff, then the second failure is terminal.
	time.Sleep(5 * time.Millisecond)
	runner.Tick(ctx)

	got, err = store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempt)

	runs, err := store.Runs(ctx, created.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunnerInvalidPayloadIsTerminal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{
		Name: "garbled", Plugin: "p", Action: "a",
		Payload: json.RawMessage(`{not json`),
	})
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)

	runner := NewRunner(store, executor, time.Second, time.Second, nil)
	runner.Tick(ctx)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "invalid task payload")
}

func TestRunnerStartRecoversOrphans(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := NewStore(testDB(t), 4)
	ctx := context.Background()

	created, err := store.Create(ctx, CreateRequest{Name: "orphaned", Plugin: "p", Action: "a"})
	require.NoError(t, err)
	_, err = store.ClaimDue(ctx, time.Now())
	require.NoError(t, err)

	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Execute(gomock.Any(), "p", "a", gomock.Any()).
		Return("ok", nil).
		AnyTimes()

	runner := NewRunner(store, executor, time.Hour, time.Second, nil)
	require.NoError(t, runner.Start(ctx))
	runner.Stop()

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestBackoffDoubles(t *testing.T) {
	runner := NewRunner(nil, nil, time.Second, 5*time.Second, nil)

	assert.Equal(t, 5*time.Second, runner.backoff(1))
	assert.Equal(t, 10*time.Second, runner.backoff(2))
	assert.Equal(t, 20*time.Second, runner.backoff(3))
	assert.Equal(t, time.Hour, runner.backoff(30))
}
