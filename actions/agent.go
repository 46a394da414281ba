package actions

import (
	"fmt"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/agent"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/token"
)

// AgentPack builds the agent:* handlers. All operations go through the
// package-level agent functions against chron/agentsKey so a freshly
// created agent is immediately visible to later actions in the same
// dispatch sequence.
func AgentPack(chron *chronicle.Chronicle, agentsKey string) action.Pack {
	return action.Pack{
		"agent:create": func(ctx action.Context, payload map[string]any) (any, error) {
			id, ok := payloadString(payload, "id")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"id\"", action.ErrInvalidPayload)
			}
			name, _ := payloadString(payload, "name")
			a, err := agent.Create(chron, agentsKey, id, name)
			if err != nil {
				return nil, err
			}
			ctx.Emit("agent:created", map[string]any{"id": id})
			return map[string]any{"id": a.ID(), "name": a.Name()}, nil
		},
		"agent:draw": func(ctx action.Context, payload map[string]any) (any, error) {
			id, ok := payloadString(payload, "id")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"id\"", action.ErrInvalidPayload)
			}
			tokensPayload, ok := payload["tokens"].([]any)
			if !ok {
				return nil, fmt.Errorf("%w: missing \"tokens\"", action.ErrInvalidPayload)
			}
			tokens := token.FromAny(tokensPayload)
			a := agent.Open(chron, agentsKey, id)
			if err := a.Draw(tokens); err != nil {
				return nil, err
			}
			return a.Inventory(), nil
		},
		"agent:discard": func(ctx action.Context, payload map[string]any) (any, error) {
			id, ok := payloadString(payload, "id")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"id\"", action.ErrInvalidPayload)
			}
			group, hasGroup := payloadString(payload, "group")
			a := agent.Open(chron, agentsKey, id)
			removed, err := a.DiscardFromHand(func(tok token.Token) bool {
				if !hasGroup {
					return true
				}
				return tok.Group == group
			})
			if err != nil {
				return nil, err
			}
			return removed, nil
		},
		"agent:transfer": func(ctx action.Context, payload map[string]any) (any, error) {
			from, ok := payloadString(payload, "from")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"from\"", action.ErrInvalidPayload)
			}
			to, ok := payloadString(payload, "to")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"to\"", action.ErrInvalidPayload)
			}
			tokenID, ok := payloadString(payload, "token")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"token\"", action.ErrInvalidPayload)
			}
			result, err := agent.Transfer(chron, agentsKey, from, to, tokenID)
			if err != nil {
				return nil, err
			}
			ctx.Emit("agent:transferred", map[string]any{"from": from, "to": to})
			return result, nil
		},
		"agent:trade": func(ctx action.Context, payload map[string]any) (any, error) {
			offer1, err := tradeOfferFromPayload(payload, "agent1")
			if err != nil {
				return nil, err
			}
			offer2, err := tradeOfferFromPayload(payload, "agent2")
			if err != nil {
				return nil, err
			}
			result, err := agent.Trade(chron, agentsKey, offer1, offer2)
			if err != nil {
				return nil, err
			}
			ctx.Emit("agent:traded", map[string]any{"agent1": offer1.Agent, "agent2": offer2.Agent})
			return result, nil
		},
		"agent:steal": func(ctx action.Context, payload map[string]any) (any, error) {
			from, ok := payloadString(payload, "from")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"from\"", action.ErrInvalidPayload)
			}
			to, ok := payloadString(payload, "to")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"to\"", action.ErrInvalidPayload)
			}
			tokenID, ok := payloadString(payload, "token")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"token\"", action.ErrInvalidPayload)
			}
			validate := func() bool { return true }
			if v, ok := payload["validate"].(bool); ok {
				validate = func() bool { return v }
			}
			result, err := agent.Steal(chron, agentsKey, from, to, tokenID, validate)
			if err != nil {
				return nil, err
			}
			ctx.Emit("agent:stole", map[string]any{"from": from, "to": to})
			return result, nil
		},
		"agent:beginTurn": func(ctx action.Context, payload map[string]any) (any, error) {
			id, ok := payloadString(payload, "id")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"id\"", action.ErrInvalidPayload)
			}
			a := agent.Open(chron, agentsKey, id)
			return nil, a.BeginTurn()
		},
		"agent:endTurn": func(ctx action.Context, payload map[string]any) (any, error) {
			id, ok := payloadString(payload, "id")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"id\"", action.ErrInvalidPayload)
			}
			a := agent.Open(chron, agentsKey, id)
			return nil, a.EndTurn()
		},
	}
}

func tradeOfferFromPayload(payload map[string]any, key string) (agent.TradeOffer, error) {
	raw, ok := payload[key].(map[string]any)
	if !ok {
		return agent.TradeOffer{}, fmt.Errorf("%w: missing %q", action.ErrInvalidPayload, key)
	}
	name, ok := raw["name"].(string)
	if !ok {
		return agent.TradeOffer{}, fmt.Errorf("%w: %q.name must be a string", action.ErrInvalidPayload, key)
	}
	offerRaw, ok := raw["offer"].([]any)
	if !ok {
		return agent.TradeOffer{}, fmt.Errorf("%w: %q.offer must be an array", action.ErrInvalidPayload, key)
	}
	offer := make([]string, 0, len(offerRaw))
	for _, item := range offerRaw {
		if s, ok := item.(string); ok {
			offer = append(offer, s)
		}
	}
	return agent.TradeOffer{Agent: name, Offer: offer}, nil
}
