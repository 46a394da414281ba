package actions

import (
	"fmt"
	"time"

	"github.com/rakunlabs/chronicle/action"
)

// RulePack builds the rule:* handlers over an engine's PolicySet: add,
// remove, and reset a Policy at runtime, mirroring what an embedder would
// otherwise only be able to do at construction time.
func RulePack(policies *action.PolicySet) action.Pack {
	return action.Pack{
		"rule:add": func(ctx action.Context, payload map[string]any) (any, error) {
			name, ok := payloadString(payload, "name")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"name\"", action.ErrInvalidPayload)
			}
			priority := 0
			if n, err := payloadInt(payload, "priority"); err == nil {
				priority = n
			}
			once, _ := payload["once"].(bool)

			// "when"/"then" carry JavaScript sources so a rule added at
			// runtime (from config, a store row, or a remote admin call) can
			// carry real logic instead of only reserving a name/priority
			// slot; omitting either leaves that half a no-op (an empty
			// condition always fires, an empty effect does nothing).
			conditionSrc, _ := payloadString(payload, "when")
			effectSrc, _ := payloadString(payload, "then")

			policy, err := action.NewScriptedPolicy(name, conditionSrc, effectSrc, priority, once, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", action.ErrInvalidPayload, err)
			}
			policies.Add(policy)
			ctx.Emit("rule:added", map[string]any{"name": name, "timestamp": time.Now().UnixMilli()})
			return nil, nil
		},
		"rule:remove": func(ctx action.Context, payload map[string]any) (any, error) {
			name, ok := payloadString(payload, "name")
			if !ok {
				return nil, fmt.Errorf("%w: missing \"name\"", action.ErrInvalidPayload)
			}
			policies.Remove(name)
			ctx.Emit("rule:removed", map[string]any{"name": name})
			return nil, nil
		},
		"rule:reset": func(ctx action.Context, payload map[string]any) (any, error) {
			policies.Reset()
			ctx.Emit("rule:reset", nil)
			return nil, nil
		},
	}
}
