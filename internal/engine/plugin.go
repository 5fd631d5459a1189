// Package engine implements the plugin execution engine: a dual-origin
// registry of in-process action tables and external subprocess descriptors,
// a dispatcher exposing a single Execute entry point, and the argv/stdout
// invocation protocol for external plugins.
package engine

import (
	"context"
	"time"

	"github.com/pistonhq/piston/internal/events"
)

// ActionFunc is the in-process call convention. Implementations may block;
// they receive the caller's context and must honor its cancellation.
type ActionFunc func(ctx context.Context, payload any, pc *Context) (any, error)

// Plugin is an in-process plugin: a name and a table of named actions.
// Immutable after registration.
type Plugin struct {
	Name    string
	Actions map[string]ActionFunc
}

// Descriptor is the static configuration for one external plugin: how to
// spawn it and where. Loaded from the manifest, immutable afterwards.
type Descriptor struct {
	Name     string   `json:"name"`
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
	Dir      string   `json:"cwd,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`  // Go duration string, overrides the engine default
	Checksum string   `json:"checksum,omitempty"` // optional blake3 hex pin of the command binary
}

// ExecTimeout returns the descriptor's timeout override, if valid.
func (d *Descriptor) ExecTimeout() (time.Duration, bool) {
	if d.Timeout == "" {
		return 0, false
	}
	t, err := time.ParseDuration(d.Timeout)
	if err != nil || t <= 0 {
		return 0, false
	}
	return t, true
}

// Context is the per-invocation value handed to an in-process action. It
// lives for the duration of one call and exposes one capability: raising
// auxiliary events distinct from the dispatcher's own lifecycle events.
type Context struct {
	plugin string
	bus    *events.Bus
}

// Plugin returns the name of the plugin being invoked.
func (c *Context) Plugin() string { return c.plugin }

// EmitEvent raises an auxiliary event on the engine's bus.
func (c *Context) EmitEvent(eventType string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(eventType, data)
}
