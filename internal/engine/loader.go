package engine

import (
	"log/slog"
)

// Loader populates a registry once at startup from two sources: an explicit
// list of in-process plugins (built at compile time) and an external
// manifest file. Either source may be absent. Loading is idempotent: a
// second call with the same inputs yields the same resolvable set, with one
// pluginLoaded event per entry per load call.
type Loader struct {
	registry *Registry
	logger   *slog.Logger
}

func NewLoader(registry *Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: registry, logger: logger}
}

// Load registers builtins in list order, then reads manifestPath and
// registers every descriptor in file order. A missing manifest is not an
// error; a malformed one is.
func (l *Loader) Load(builtins []*Plugin, manifestPath string) error {
	for _, p := range builtins {
		if p == nil || p.Name == "" {
			l.logger.Warn("skipping built-in plugin without a name")
			continue
		}
		l.registry.Register(p)
		l.logger.Info("loaded built-in plugin", "plugin", p.Name, "actions", len(p.Actions))
	}

	descriptors, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	for i := range descriptors {
		d := descriptors[i]
		l.registry.RegisterExternal(&d)
		if l.registry.Shadowed(d.Name) {
			// Resolve checks in-process first, so this entry is unreachable.
			l.logger.Warn("manifest entry shadowed by built-in plugin", "plugin", d.Name)
		}
		l.logger.Info("loaded external plugin", "plugin", d.Name, "command", d.Command)
	}

	return nil
}
