package builtin

import (
	"context"

	"github.com/pistonhq/piston/internal/engine"
)

// Echo returns the payload unchanged. Useful as a liveness probe and as the
// reference for the identity pass-through contract.
func Echo() *engine.Plugin {
	return &engine.Plugin{
		Name: "echo",
		Actions: map[string]engine.ActionFunc{
			"echo": func(ctx context.Context, payload any, pc *engine.Context) (any, error) {
				return payload, nil
			},
		},
	}
}
