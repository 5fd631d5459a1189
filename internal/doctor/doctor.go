// Package doctor validates piston configuration and plugin setup.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pistonhq/piston/internal/config"
	"github.com/pistonhq/piston/internal/engine"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration, the plugin manifest, and the plugins it
// names.
type Doctor struct {
	cfg      *config.Config
	builtins []*engine.Plugin
}

// New creates a Doctor from a loaded config and the compiled-in plugin set.
func New(cfg *config.Config, builtins []*engine.Plugin) *Doctor {
	return &Doctor{cfg: cfg, builtins: builtins}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateStorage(r)
	d.validateAPIConfig(r)
	d.validateManifest(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Engine.ExecTimeout <= 0 {
		d.addError(r, "engine", "engine.exec_timeout", "exec_timeout must be positive")
	}
	if d.cfg.Tasks.TickInterval <= 0 {
		d.addError(r, "tasks", "tasks.tick_interval", "tick_interval must be positive")
	}
}

// validateStorage checks the database directory exists or can be created.
func (d *Doctor) validateStorage(r *Result) {
	if d.cfg.Storage.Path == "" {
		d.addError(r, "storage", "storage.path", "storage.path is required")
		return
	}
	dir := filepath.Dir(d.cfg.Storage.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "storage", "storage.path",
			fmt.Sprintf("cannot create data directory %q: %v", dir, err))
		return
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "storage", "storage.path",
			fmt.Sprintf("data directory %q is not writable: %v", dir, err))
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.Keys) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	if d.cfg.API.Auth.JWTSecret != "" && len(d.cfg.API.Auth.JWTSecret) < 32 {
		d.addError(r, "api", "api.auth.jwt_secret", "jwt_secret must be at least 32 characters")
	}
}

// validateManifest loads the external plugin manifest and checks each
// descriptor's command resolves, its checksum matches, and its name does not
// collide with a built-in.
func (d *Doctor) validateManifest(r *Result) {
	descriptors, err := engine.LoadManifest(d.cfg.Engine.Manifest)
	if err != nil {
		d.addError(r, "manifest", "engine.manifest", err.Error())
		return
	}
	if descriptors == nil {
		d.addWarning(r, "manifest", "engine.manifest",
			fmt.Sprintf("manifest %q not found; only built-in plugins will be available", d.cfg.Engine.Manifest))
		return
	}

	builtinNames := make(map[string]struct{}, len(d.builtins))
	for _, p := range d.builtins {
		builtinNames[p.Name] = struct{}{}
	}

	for i, desc := range descriptors {
		field := fmt.Sprintf("plugins[%d]", i)

		if _, shadowed := builtinNames[desc.Name]; shadowed {
			d.addWarning(r, "manifest", field,
				fmt.Sprintf("plugin %q is shadowed by a built-in plugin of the same name", desc.Name))
		}

		if strings.ContainsRune(desc.Command, os.PathSeparator) {
			if _, err := os.Stat(desc.Command); err != nil {
				d.addError(r, "manifest", field+".command",
					fmt.Sprintf("plugin %q: command %q not found: %v", desc.Name, desc.Command, err))
				continue
			}
		} else if _, err := exec.LookPath(desc.Command); err != nil {
			d.addError(r, "manifest", field+".command",
				fmt.Sprintf("plugin %q: command %q not found in PATH", desc.Name, desc.Command))
			continue
		}

		if desc.Dir != "" {
			if info, err := os.Stat(desc.Dir); err != nil || !info.IsDir() {
				d.addError(r, "manifest", field+".cwd",
					fmt.Sprintf("plugin %q: working directory %q does not exist", desc.Name, desc.Dir))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
