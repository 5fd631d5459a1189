// Package builtin holds the in-process plugins compiled into the daemon.
// Every plugin registers through the explicit list returned by All; there is
// no filesystem discovery for in-process code.
package builtin

import "github.com/pistonhq/piston/internal/engine"

// All returns the built-in plugins in registration order.
func All() []*engine.Plugin {
	return []*engine.Plugin{
		Echo(),
		Calc(),
		Clock(),
		Filesystem("."),
	}
}
