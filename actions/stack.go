// Package actions provides the built-in action packs: handlers that wrap
// the stack, space, source, and agent packages' operations for dispatch
// through an action.Registry, matching the action-type namespace
// (stack:*, space:*, source:*, agent:*, rule:*, debug:log).
package actions

import (
	"fmt"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/stack"
)

// targetKey reads the optional "target" field used to select among several
// named instances of a Stack/Space/Source; it defaults to "default" so a
// single-instance game never needs to set it.
func targetKey(payload map[string]any) string {
	if v, ok := payload["target"].(string); ok && v != "" {
		return v
	}
	return "default"
}

func payloadInt(payload map[string]any, key string) (int, error) {
	v, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", action.ErrInvalidPayload, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %q must be a number", action.ErrInvalidPayload, key)
	}
}

func payloadSeed(payload map[string]any) *uint32 {
	v, ok := payload["seed"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		s := uint32(n)
		return &s
	case int:
		s := uint32(n)
		return &s
	default:
		return nil
	}
}

// StackPack builds the stack:* handlers over a set of named stacks. The
// zero-value "default" name is used when a payload omits "target".
func StackPack(stacks map[string]*stack.Stack) action.Pack {
	resolve := func(payload map[string]any) (*stack.Stack, error) {
		s, ok := stacks[targetKey(payload)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown stack target %q", action.ErrInvalidPayload, targetKey(payload))
		}
		return s, nil
	}

	return action.Pack{
		"stack:shuffle": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			if err := s.Shuffle(payloadSeed(payload)); err != nil {
				return nil, err
			}
			ctx.Emit("stack:shuffled", map[string]any{"target": targetKey(payload)})
			return nil, nil
		},
		"stack:draw": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			count, err := payloadInt(payload, "count")
			if err != nil {
				return nil, err
			}
			allowShort, _ := payload["allowShort"].(bool)
			drawn, err := s.Draw(count, stack.DrawOptions{AllowShort: allowShort})
			if err != nil {
				return nil, err
			}
			ctx.Emit("stack:drew", map[string]any{"target": targetKey(payload), "count": len(drawn)})
			if count == 1 && len(drawn) == 1 {
				return drawn[0], nil
			}
			return drawn, nil
		},
		"stack:burn": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			count, err := payloadInt(payload, "count")
			if err != nil {
				return nil, err
			}
			allowShort, _ := payload["allowShort"].(bool)
			burned, err := s.Burn(count, stack.DrawOptions{AllowShort: allowShort})
			if err != nil {
				return nil, err
			}
			ctx.Emit("stack:burned", map[string]any{"target": targetKey(payload), "count": len(burned)})
			return burned, nil
		},
		"stack:reset": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			if err := s.Reset(); err != nil {
				return nil, err
			}
			ctx.Emit("stack:reset", map[string]any{"target": targetKey(payload)})
			return nil, nil
		},
		"stack:cut": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			at, err := payloadInt(payload, "at")
			if err != nil {
				return nil, err
			}
			return nil, s.Cut(at)
		},
		"stack:swap": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			i, err := payloadInt(payload, "i")
			if err != nil {
				return nil, err
			}
			j, err := payloadInt(payload, "j")
			if err != nil {
				return nil, err
			}
			return nil, s.Swap(i, j)
		},
		"stack:insert": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			tok, ok := payload["token"]
			if !ok {
				return nil, fmt.Errorf("%w: missing \"token\"", action.ErrInvalidPayload)
			}
			at, err := payloadInt(payload, "at")
			if err != nil {
				return nil, err
			}
			tm, ok := tok.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: \"token\" must be an object", action.ErrInvalidPayload)
			}
			decoded := tokenFromPayload(tm)
			return nil, s.InsertAt(decoded, at)
		},
		"stack:peek": func(ctx action.Context, payload map[string]any) (any, error) {
			s, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			n, err := payloadInt(payload, "count")
			if err != nil {
				return nil, err
			}
			return s.Peek(n), nil
		},
	}
}
