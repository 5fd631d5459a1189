package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine lifecycle event types. Plugins may emit additional types through
// their action context; the bus does not restrict names.
const (
	TypePluginLoaded   = "pluginLoaded"
	TypePluginExecuted = "pluginExecuted"
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Listener receives events synchronously during Emit, in registration order.
type Listener func(Event)

// Bus is an in-memory pub/sub with ordered callback listeners, channel
// subscriptions for streaming consumers, and a small ring buffer so late
// clients can catch up.
type Bus struct {
	nextID atomic.Int64
	logger *slog.Logger

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	listeners map[string][]Listener
	subs      map[int]chan Event
	nextSubID int
}

func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		ring:      make([]Event, capacity),
		listeners: make(map[string][]Listener),
		subs:      make(map[int]chan Event),
	}
}

// On registers a callback listener for an event type. Listeners are invoked
// in registration order on every Emit of that type.
func (b *Bus) On(eventType string, fn Listener) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], fn)
	b.mu.Unlock()
}

// Emit publishes an event: callback listeners fire synchronously before Emit
// returns, channel subscribers receive it without blocking the publisher.
func (b *Bus) Emit(eventType string, data any) {
	id := b.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if bs, err := json.Marshal(data); err == nil {
			payload = bs
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	b.mu.Lock()
	b.pushLocked(ev)
	// Snapshot so a listener can register or emit without deadlocking.
	fns := make([]Listener, len(b.listeners[eventType]))
	copy(fns, b.listeners[eventType])
	for _, ch := range b.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.invoke(fn, ev)
	}
}

// invoke runs one listener, containing panics so a bad listener cannot break
// the emit loop for the rest.
func (b *Bus) invoke(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// Subscribe returns a channel receiving all events until cancel is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, 128)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (b *Bus) SnapshotSince(lastID int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		ev := b.ring[(b.start+i)%len(b.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (b *Bus) pushLocked(ev Event) {
	capacity := len(b.ring)
	if capacity == 0 {
		return
	}

	if b.size < capacity {
		idx := (b.start + b.size) % capacity
		b.ring[idx] = ev
		b.size++
		return
	}

	// Overwrite oldest.
	b.ring[b.start] = ev
	b.start = (b.start + 1) % capacity
}
