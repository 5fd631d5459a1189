package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/pistonhq/piston/internal/engine"
)

// Calc performs arithmetic on a payload of the form {"a": n, "b": n}, one
// action per operator.
func Calc() *engine.Plugin {
	return &engine.Plugin{
		Name: "calc",
		Actions: map[string]engine.ActionFunc{
			"add": calcAction(func(a, b float64) (float64, error) { return a + b, nil }),
			"sub": calcAction(func(a, b float64) (float64, error) { return a - b, nil }),
			"mul": calcAction(func(a, b float64) (float64, error) { return a * b, nil }),
			"div": calcAction(func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, errors.New("division by zero")
				}
				return a / b, nil
			}),
		},
	}
}

func calcAction(op func(a, b float64) (float64, error)) engine.ActionFunc {
	return func(ctx context.Context, payload any, pc *engine.Context) (any, error) {
		a, b, err := operands(payload)
		if err != nil {
			return nil, err
		}
		v, err := op(a, b)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": v}, nil
	}
}

func operands(payload any) (float64, float64, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, 0, errors.New(`payload must be an object {"a": number, "b": number}`)
	}
	a, err := number(m, "a")
	if err != nil {
		return 0, 0, err
	}
	b, err := number(m, "b")
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func number(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing operand %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("operand %q must be a number, got %T", key, v)
	}
}
