package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pistonhq/piston/internal/events"
)

func nopAction(ctx context.Context, payload any, pc *Context) (any, error) {
	return payload, nil
}

func TestRegistryResolveOrder(t *testing.T) {
	reg := NewRegistry(nil)

	reg.RegisterExternal(&Descriptor{Name: "dual", Command: "/bin/true"})
	res := reg.Resolve("dual")
	require.Equal(t, OriginExternal, res.Origin)

	// An in-process plugin with the same name shadows the external entry.
	reg.Register(&Plugin{Name: "dual", Actions: map[string]ActionFunc{"run": nopAction}})
	res = reg.Resolve("dual")
	require.Equal(t, OriginInProcess, res.Origin)
	assert.True(t, reg.Shadowed("dual"))
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(nil)
	res := reg.Resolve("ghost")
	assert.Equal(t, OriginNotFound, res.Origin)
	assert.Nil(t, res.Plugin)
	assert.Nil(t, res.Descriptor)
}

func TestRegisterOverwrites(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(&Plugin{Name: "p", Actions: map[string]ActionFunc{"a": nopAction}})
	reg.Register(&Plugin{Name: "p", Actions: map[string]ActionFunc{"b": nopAction}})

	res := reg.Resolve("p")
	require.Equal(t, OriginInProcess, res.Origin)
	_, hasA := res.Plugin.Actions["a"]
	_, hasB := res.Plugin.Actions["b"]
	assert.False(t, hasA, "re-registering the same name must overwrite")
	assert.True(t, hasB)
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry(nil)

	assert.False(t, reg.Unregister("missing"))

	reg.Register(&Plugin{Name: "p", Actions: nil})
	assert.True(t, reg.Unregister("p"))
	assert.Equal(t, OriginNotFound, reg.Resolve("p").Origin)
}

func TestRegisterEmitsPluginLoaded(t *testing.T) {
	bus := events.NewBus(16, nil)
	reg := NewRegistry(bus)

	var loaded []string
	bus.On(events.TypePluginLoaded, func(ev events.Event) {
		loaded = append(loaded, string(ev.Data))
	})

	reg.Register(&Plugin{Name: "one", Actions: nil})
	reg.RegisterExternal(&Descriptor{Name: "two", Command: "/bin/true"})

	require.Len(t, loaded, 2)
	assert.JSONEq(t, `{"plugin":"one"}`, loaded[0])
	assert.JSONEq(t, `{"plugin":"two"}`, loaded[1])
}

func TestListAndCount(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(&Plugin{Name: "zeta", Actions: map[string]ActionFunc{"b": nopAction, "a": nopAction}})
	reg.RegisterExternal(&Descriptor{Name: "alpha", Command: "/bin/alpha"})
	reg.RegisterExternal(&Descriptor{Name: "zeta", Command: "/bin/shadowed"})

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "zeta", infos[0].Name)
	assert.Equal(t, "in-process", infos[0].Origin)
	assert.Equal(t, []string{"a", "b"}, infos[0].Actions)
	assert.Equal(t, "alpha", infos[1].Name)
	assert.Equal(t, "external", infos[1].Origin)

	// zeta resolves once; the external zeta is shadowed.
	assert.Equal(t, 2, reg.Count())
}
