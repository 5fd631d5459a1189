package builtin

import (
	"context"
	"time"

	"github.com/pistonhq/piston/internal/engine"
)

// Clock reports the current time. It also demonstrates the action context:
// each read raises an auxiliary clock.read event on the bus.
func Clock() *engine.Plugin {
	return &engine.Plugin{
		Name: "clock",
		Actions: map[string]engine.ActionFunc{
			"now": func(ctx context.Context, payload any, pc *engine.Context) (any, error) {
				now := time.Now().UTC()
				pc.EmitEvent("clock.read", map[string]string{"at": now.Format(time.RFC3339Nano)})
				return map[string]any{
					"now":  now.Format(time.RFC3339Nano),
					"unix": now.Unix(),
				}, nil
			},
		},
	}
}
