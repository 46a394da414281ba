package actions

import "github.com/rakunlabs/chronicle/token"

// tokenFromPayload decodes a single token's plain-JSON shape, the same
// shape token.ToAny produces for one element.
func tokenFromPayload(m map[string]any) token.Token {
	decoded := token.FromAny([]any{m})
	if len(decoded) == 0 {
		return token.Token{}
	}
	return decoded[0]
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok
}

func payloadFloatPtr(payload map[string]any, key string) *float64 {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	default:
		return nil
	}
}

func payloadBoolPtr(payload map[string]any, key string) *bool {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}
