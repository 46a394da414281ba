package actions

import (
	"fmt"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/space"
	"github.com/rakunlabs/chronicle/stack"
)

func placeOptionsFromPayload(payload map[string]any) space.PlaceOptions {
	return space.PlaceOptions{
		X:        payloadFloatPtr(payload, "x"),
		Y:        payloadFloatPtr(payload, "y"),
		Rotation: payloadFloatPtr(payload, "rotation"),
		FaceUp:   payloadBoolPtr(payload, "faceUp"),
	}
}

// SpacePack builds the space:* handlers over a set of named spaces.
// drawSources lets space:place supply a "fromStack" field that draws a
// fresh token from a named Stack instead of the payload's "token" field.
func SpacePack(spaces map[string]*space.Space, drawSources map[string]*stack.Stack) action.Pack {
	resolveSpace := func(payload map[string]any) (*space.Space, error) {
		sp, ok := spaces[targetKey(payload)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown space target %q", action.ErrInvalidPayload, targetKey(payload))
		}
		return sp, nil
	}

	return action.Pack{
		"space:place": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, ok := payloadString(payload, "zone")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"zone\"", action.ErrInvalidPayload)
			}
			opts := placeOptionsFromPayload(payload)

			if from, ok := payloadString(payload, "fromStack"); ok {
				src, ok := drawSources[from]
				if !ok {
					return nil, fmt.Errorf("%w: unknown fromStack %q", action.ErrInvalidPayload, from)
				}
				placed, err := sp.DrawFromZone(zoneName, src, opts)
				if err != nil {
					return nil, err
				}
				ctx.Emit("space:placed", map[string]any{"zone": zoneName})
				return placed, nil
			}

			tokenPayload, ok := payload["token"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: missing \"token\"", action.ErrInvalidPayload)
			}
			placed, err := sp.Place(zoneName, tokenFromPayload(tokenPayload), opts)
			if err != nil {
				return nil, err
			}
			ctx.Emit("space:placed", map[string]any{"zone": zoneName})
			return placed, nil
		},
		"space:move": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			from, ok := payloadString(payload, "from")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"from\"", action.ErrInvalidPayload)
			}
			to, ok := payloadString(payload, "to")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"to\"", action.ErrInvalidPayload)
			}
			placementID, ok := payloadString(payload, "placementId")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"placementId\"", action.ErrInvalidPayload)
			}
			opts := placeOptionsFromPayload(payload)
			if err := sp.Move(from, to, placementID, opts); err != nil {
				return nil, err
			}
			ctx.Emit("space:moved", map[string]any{"from": from, "to": to})
			return nil, nil
		},
		"space:flip": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, ok := payloadString(payload, "zone")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"zone\"", action.ErrInvalidPayload)
			}
			placementID, ok := payloadString(payload, "placementId")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"placementId\"", action.ErrInvalidPayload)
			}
			return nil, sp.Flip(zoneName, placementID, payloadBoolPtr(payload, "faceUp"))
		},
		"space:remove": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, _ := payloadString(payload, "zone")
			placementID, _ := payloadString(payload, "placementId")
			return nil, sp.Remove(zoneName, placementID)
		},
		"space:clear": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, _ := payloadString(payload, "zone")
			return nil, sp.ClearZone(zoneName)
		},
		"space:lock": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, _ := payloadString(payload, "zone")
			locked, _ := payload["locked"].(bool)
			return nil, sp.LockZone(zoneName, locked)
		},
		"space:transfer": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			from, _ := payloadString(payload, "from")
			to, _ := payloadString(payload, "to")
			n, err := sp.TransferZone(from, to)
			if err != nil {
				return nil, err
			}
			return map[string]any{"moved": n}, nil
		},
		"space:shuffle": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, _ := payloadString(payload, "zone")
			return nil, sp.ShuffleZone(zoneName, payloadSeed(payload))
		},
		"space:spread": func(ctx action.Context, payload map[string]any) (any, error) {
			sp, err := resolveSpace(payload)
			if err != nil {
				return nil, err
			}
			zoneName, _ := payloadString(payload, "zone")
			pattern := space.SpreadLinear
			if p, ok := payloadString(payload, "pattern"); ok && p == string(space.SpreadArc) {
				pattern = space.SpreadArc
			}
			angleStep := 0.0
			if v := payloadFloatPtr(payload, "angleStep"); v != nil {
				angleStep = *v
			}
			radius := 0.0
			if v := payloadFloatPtr(payload, "radius"); v != nil {
				radius = *v
			}
			return nil, sp.SpreadZone(zoneName, space.SpreadOptions{
				Pattern:   pattern,
				AngleStep: angleStep,
				Radius:    radius,
			})
		},
	}
}
