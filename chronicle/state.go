package chronicle

// Reserved top-level subtree names. Embedders may add their own keys
// alongside these; any key not in this list is still an ordinary LWW
// register merged the same way.
const (
	KeyStack  = "stack"
	KeyZones  = "zones"
	KeySource = "source"
	KeyAgents = "agents"
	KeyRules  = "rules"
)

// State is an immutable snapshot of a Chronicle document: the JSON-shaped
// data plus the per-key HLC clocks that make last-writer-wins merge
// possible. It is the unit exchanged between Change, a ConsensusCore sync
// round, and Save/Load.
type State struct {
	Data   map[string]any `json:"data"`
	Clocks map[string]HLC `json:"clocks"`
}

// Clone deep-copies a State so callers never alias another Chronicle's
// internal maps.
func (s State) Clone() State {
	out := State{
		Data:   make(map[string]any, len(s.Data)),
		Clocks: make(map[string]HLC, len(s.Clocks)),
	}
	for k, v := range s.Data {
		out.Data[k] = cloneJSONValue(v)
	}
	for k, v := range s.Clocks {
		out.Clocks[k] = v
	}
	return out
}

// Equal reports whether two states hold the same data (clocks are
// replica-local bookkeeping and are intentionally excluded from equality --
// two Chronicles converge when their *data* matches).
func (s State) Equal(other State) bool {
	if len(s.Data) != len(other.Data) {
		return false
	}
	for k, v := range s.Data {
		ov, ok := other.Data[k]
		if !ok || !jsonValueEqual(v, ov) {
			return false
		}
	}
	return true
}

func cloneJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneJSONValue(val)
		}
		return out
	default:
		return v
	}
}

func jsonValueEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok || bok {
		if !aok || !bok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !jsonValueEqual(v, bv) {
				return false
			}
		}
		return true
	}

	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok || bok {
		if !aok || !bok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !jsonValueEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return normalizeScalar(a) == normalizeScalar(b)
}

// normalizeScalar smooths over int/float64 differences that arise because
// native Go values (int) and round-tripped JSON values (float64) represent
// the same number differently.
func normalizeScalar(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
