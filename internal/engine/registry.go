package engine

import (
	"sort"
	"sync"

	"github.com/pistonhq/piston/internal/events"
)

// Origin identifies which registry half owns a resolved plugin name.
type Origin int

const (
	OriginNotFound Origin = iota
	OriginInProcess
	OriginExternal
)

func (o Origin) String() string {
	switch o {
	case OriginInProcess:
		return "in-process"
	case OriginExternal:
		return "external"
	default:
		return "not-found"
	}
}

// Resolution is the result of a registry lookup. Exactly one of Plugin or
// Descriptor is set when Origin is not OriginNotFound.
type Resolution struct {
	Origin     Origin
	Plugin     *Plugin
	Descriptor *Descriptor
}

// Info is a read-only projection of one registered plugin, for listings.
type Info struct {
	Name    string   `json:"name"`
	Origin  string   `json:"origin"`
	Actions []string `json:"actions,omitempty"`
	Command string   `json:"command,omitempty"`
}

// Registry is the single source of truth for what can be executed and how.
// Writes happen at load time; reads dominate afterwards.
type Registry struct {
	bus *events.Bus

	mu       sync.RWMutex
	inproc   map[string]*Plugin
	external map[string]*Descriptor
}

// NewRegistry creates an empty registry. Registrations are announced on bus
// as pluginLoaded events; a nil bus disables announcements.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		bus:      bus,
		inproc:   make(map[string]*Plugin),
		external: make(map[string]*Descriptor),
	}
}

// Register inserts or overwrites an in-process plugin and announces it.
func (r *Registry) Register(p *Plugin) {
	if p == nil || p.Name == "" {
		return
	}
	r.mu.Lock()
	r.inproc[p.Name] = p
	r.mu.Unlock()

	r.announce(p.Name)
}

// RegisterExternal inserts or overwrites an external descriptor and
// announces it.
func (r *Registry) RegisterExternal(d *Descriptor) {
	if d == nil || d.Name == "" {
		return
	}
	r.mu.Lock()
	r.external[d.Name] = d
	r.mu.Unlock()

	r.announce(d.Name)
}

// Unregister removes a name from both halves, reporting whether any entry
// existed. Supports hot-reload layering; the daemon itself loads once.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, hadInproc := r.inproc[name]
	_, hadExternal := r.external[name]
	delete(r.inproc, name)
	delete(r.external, name)
	return hadInproc || hadExternal
}

// Resolve looks a name up, checking the in-process table before the external
// one: an in-process plugin shadows an external descriptor of the same name.
func (r *Registry) Resolve(name string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.inproc[name]; ok {
		return Resolution{Origin: OriginInProcess, Plugin: p}
	}
	if d, ok := r.external[name]; ok {
		return Resolution{Origin: OriginExternal, Descriptor: d}
	}
	return Resolution{Origin: OriginNotFound}
}

// Shadowed reports whether name exists in both halves (the external entry is
// unreachable through Resolve).
func (r *Registry) Shadowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, in := r.inproc[name]
	_, ext := r.external[name]
	return in && ext
}

// List returns all registered plugins, in-process first, each half sorted by
// name. Shadowed external entries are included with their origin marked.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.inproc)+len(r.external))
	for name, p := range r.inproc {
		actions := make([]string, 0, len(p.Actions))
		for a := range p.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		out = append(out, Info{Name: name, Origin: OriginInProcess.String(), Actions: actions})
	}
	for name, d := range r.external {
		out = append(out, Info{Name: name, Origin: OriginExternal.String(), Command: d.Command})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin == OriginInProcess.String()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Count returns the number of resolvable names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.inproc)
	for name := range r.external {
		if _, shadowed := r.inproc[name]; !shadowed {
			n++
		}
	}
	return n
}

func (r *Registry) announce(name string) {
	if r.bus != nil {
		r.bus.Emit(events.TypePluginLoaded, map[string]string{"plugin": name})
	}
}
