package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pistonhq/piston/internal/events"
)

// Dispatcher is the engine's only public entry point after startup. It owns
// no mutable invocation state; concurrent Execute calls share nothing but
// the read-mostly registry.
type Dispatcher struct {
	registry *Registry
	bus      *events.Bus
	invoker  *Invoker
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, bus *events.Bus, invoker *Invoker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, bus: bus, invoker: invoker, logger: logger}
}

// Registry exposes the dispatcher's registry for listings and diagnostics.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Execute resolves pluginName and invokes action on it with payload,
// normalizing the result across both origins. On success a pluginExecuted
// event fires before the result is returned to the caller; callers cannot
// distinguish origin from the event.
func (d *Dispatcher) Execute(ctx context.Context, pluginName, action string, payload any) (any, error) {
	res := d.registry.Resolve(pluginName)
	switch res.Origin {
	case OriginInProcess:
		return d.executeInProcess(ctx, res.Plugin, action, payload)
	case OriginExternal:
		return d.executeExternal(ctx, res.Descriptor, action, payload)
	default:
		return nil, newError(KindPluginNotFound, pluginName, action,
			fmt.Sprintf("plugin %q is not registered", pluginName), nil)
	}
}

func (d *Dispatcher) executeInProcess(ctx context.Context, p *Plugin, action string, payload any) (any, error) {
	fn, ok := p.Actions[action]
	if !ok {
		return nil, newError(KindActionNotFound, p.Name, action,
			fmt.Sprintf("plugin %q has no action %q", p.Name, action), nil)
	}

	result, err := d.invokeAction(ctx, p.Name, action, fn, payload)
	if err != nil {
		return nil, err
	}

	d.emitExecuted(p.Name, action)
	return result, nil
}

// invokeAction calls the action with panic containment: a panicking action
// fails its own invocation, not the host or other in-flight calls.
func (d *Dispatcher) invokeAction(ctx context.Context, plugin, action string, fn ActionFunc, payload any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("in-process action panicked", "plugin", plugin, "action", action, "panic", r)
			err = newError(KindExecutionFailed, plugin, action, fmt.Sprintf("action panicked: %v", r), nil)
		}
	}()

	result, callErr := fn(ctx, payload, &Context{plugin: plugin, bus: d.bus})
	if callErr != nil {
		return nil, newError(KindExecutionFailed, plugin, action, callErr.Error(), callErr)
	}
	return result, nil
}

func (d *Dispatcher) executeExternal(ctx context.Context, desc *Descriptor, action string, payload any) (any, error) {
	result, err := d.invoker.Invoke(ctx, desc, action, payload)
	if err != nil {
		return nil, err
	}

	d.emitExecuted(desc.Name, action)
	return result, nil
}

func (d *Dispatcher) emitExecuted(plugin, action string) {
	if d.bus != nil {
		d.bus.Emit(events.TypePluginExecuted, map[string]string{"plugin": plugin, "action": action})
	}
}
