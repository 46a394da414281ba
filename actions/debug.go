package actions

import "github.com/rakunlabs/chronicle/action"

// DebugPack builds the debug:log handler: it emits its payload on
// "debug:log" for observers (loggers, test harnesses) without touching any
// domain state, and returns nothing.
func DebugPack() action.Pack {
	return action.Pack{
		"debug:log": func(ctx action.Context, payload map[string]any) (any, error) {
			ctx.Emit("debug:log", payload)
			return nil, nil
		},
	}
}
