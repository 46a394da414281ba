package actions

import (
	"fmt"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/source"
	"github.com/rakunlabs/chronicle/stack"
)

// SourcePack builds the source:* handlers over a set of named Sources.
func SourcePack(sources map[string]*source.Source) action.Pack {
	resolve := func(payload map[string]any) (*source.Source, error) {
		src, ok := sources[targetKey(payload)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown source target %q", action.ErrInvalidPayload, targetKey(payload))
		}
		return src, nil
	}

	return action.Pack{
		"source:draw": func(ctx action.Context, payload map[string]any) (any, error) {
			src, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			count, err := payloadInt(payload, "count")
			if err != nil {
				return nil, err
			}
			allowShort, _ := payload["allowShort"].(bool)
			drawn, err := src.Draw(count, stack.DrawOptions{AllowShort: allowShort})
			if err != nil {
				return nil, err
			}
			ctx.Emit("source:drew", map[string]any{"target": targetKey(payload), "count": len(drawn)})
			return drawn, nil
		},
		"source:shuffle": func(ctx action.Context, payload map[string]any) (any, error) {
			src, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			count, err := payloadInt(payload, "count")
			if err != nil {
				return nil, err
			}
			allowShort, _ := payload["allowShort"].(bool)
			burned, err := src.Burn(count, stack.DrawOptions{AllowShort: allowShort})
			if err != nil {
				return nil, err
			}
			return burned, nil
		},
		"source:reshuffle": func(ctx action.Context, payload map[string]any) (any, error) {
			src, err := resolve(payload)
			if err != nil {
				return nil, err
			}
			if err := src.Reshuffle(); err != nil {
				return nil, err
			}
			ctx.Emit("source:reshuffled", map[string]any{"target": targetKey(payload)})
			return nil, nil
		},
	}
}
