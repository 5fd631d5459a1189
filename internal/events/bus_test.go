package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnEmitOrder(t *testing.T) {
	bus := NewBus(16, nil)

	var order []int
	bus.On("ping", func(Event) { order = append(order, 1) })
	bus.On("ping", func(Event) { order = append(order, 2) })
	bus.On("ping", func(Event) { order = append(order, 3) })

	bus.Emit("ping", nil)

	assert.Equal(t, []int{1, 2, 3}, order, "listeners must fire in registration order")
}

func TestEmitPayload(t *testing.T) {
	bus := NewBus(16, nil)

	var got map[string]any
	bus.On(TypePluginExecuted, func(ev Event) {
		_ = json.Unmarshal(ev.Data, &got)
	})

	bus.Emit(TypePluginExecuted, map[string]string{"plugin": "echo", "action": "echo"})

	require.NotNil(t, got)
	assert.Equal(t, "echo", got["plugin"])
	assert.Equal(t, "echo", got["action"])
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	bus := NewBus(16, nil)

	var after bool
	bus.On("boom", func(Event) { panic("listener bug") })
	bus.On("boom", func(Event) { after = true })

	assert.NotPanics(t, func() { bus.Emit("boom", nil) })
	assert.True(t, after, "listener after the panicking one must still run")
}

func TestListenerCanEmit(t *testing.T) {
	bus := NewBus(16, nil)

	var secondary bool
	bus.On("secondary", func(Event) { secondary = true })
	bus.On("primary", func(Event) { bus.Emit("secondary", nil) })

	done := make(chan struct{})
	go func() {
		bus.Emit("primary", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Emit deadlocked")
	}
	assert.True(t, secondary)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	bus := NewBus(16, nil)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit("a", nil)
	bus.Emit("b", nil)

	ev := <-ch
	assert.Equal(t, "a", ev.Type)
	ev = <-ch
	assert.Equal(t, "b", ev.Type)
}

func TestSnapshotSince(t *testing.T) {
	bus := NewBus(16, nil)

	bus.Emit("one", nil)
	bus.Emit("two", nil)
	bus.Emit("three", nil)

	all := bus.SnapshotSince(0)
	require.Len(t, all, 3)

	tail := bus.SnapshotSince(all[1].ID)
	require.Len(t, tail, 1)
	assert.Equal(t, "three", tail[0].Type)
}

func TestRingOverwritesOldest(t *testing.T) {
	bus := NewBus(2, nil)

	bus.Emit("one", nil)
	bus.Emit("two", nil)
	bus.Emit("three", nil)

	all := bus.SnapshotSince(0)
	require.Len(t, all, 2)
	assert.Equal(t, "two", all[0].Type)
	assert.Equal(t, "three", all[1].Type)
}

func TestConcurrentEmit(t *testing.T) {
	bus := NewBus(256, nil)

	var mu sync.Mutex
	count := 0
	bus.On("n", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bus.Emit("n", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, count)
}
