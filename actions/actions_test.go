package actions

import (
	"testing"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/agent"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/source"
	"github.com/rakunlabs/chronicle/space"
	"github.com/rakunlabs/chronicle/stack"
	"github.com/rakunlabs/chronicle/token"
)

type recordingCtx struct {
	emitted []string
}

func (r *recordingCtx) Emit(topic string, payload any) { r.emitted = append(r.emitted, topic) }

func deck(n int) []token.Token {
	out := make([]token.Token, n)
	for i := range out {
		out[i] = token.Token{ID: string(rune('a' + i)), Index: i}
	}
	return out
}

func TestStackPackDrawAndBurn(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	s, err := stack.New(chron, chronicle.KeyStack, deck(5))
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	pack := StackPack(map[string]*stack.Stack{"default": s})
	ctx := &recordingCtx{}

	reg := action.NewRegistry()
	reg.RegisterPack(pack)

	draw, err := reg.Lookup("stack:draw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	result, err := draw(ctx, map[string]any{"count": float64(2)})
	if err != nil {
		t.Fatalf("stack:draw: %v", err)
	}
	drawnTokens, ok := result.([]token.Token)
	if !ok || len(drawnTokens) != 2 {
		t.Fatalf("expected 2 drawn tokens, got %#v", result)
	}

	burn, _ := reg.Lookup("stack:burn")
	if _, err := burn(ctx, map[string]any{"count": float64(1)}); err != nil {
		t.Fatalf("stack:burn: %v", err)
	}
	if s.Size() != 2 {
		t.Fatalf("expected 2 tokens remaining, got %d", s.Size())
	}

	if len(ctx.emitted) == 0 {
		t.Fatalf("expected at least one emitted event")
	}
}

func TestStackPackDrawSingleReturnsBareToken(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	s, _ := stack.New(chron, chronicle.KeyStack, deck(3))
	reg := action.NewRegistry()
	reg.RegisterPack(StackPack(map[string]*stack.Stack{"default": s}))

	draw, _ := reg.Lookup("stack:draw")
	result, err := draw(&recordingCtx{}, map[string]any{"count": float64(1)})
	if err != nil {
		t.Fatalf("stack:draw: %v", err)
	}
	if _, ok := result.(token.Token); !ok {
		t.Fatalf("expected a bare Token for count=1, got %#v", result)
	}
}

func TestStackPackUnknownTarget(t *testing.T) {
	reg := action.NewRegistry()
	reg.RegisterPack(StackPack(map[string]*stack.Stack{}))
	draw, _ := reg.Lookup("stack:draw")
	if _, err := draw(&recordingCtx{}, map[string]any{"count": float64(1), "target": "missing"}); err == nil {
		t.Fatalf("expected an error for an unknown target")
	}
}

func TestSpacePackPlaceAndMove(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	sp, _ := space.New(chron, chronicle.KeyZones)
	reg := action.NewRegistry()
	reg.RegisterPack(SpacePack(map[string]*space.Space{"default": sp}, nil))
	ctx := &recordingCtx{}

	place, _ := reg.Lookup("space:place")
	result, err := place(ctx, map[string]any{
		"zone":  "table",
		"token": map[string]any{"id": "c1"},
	})
	if err != nil {
		t.Fatalf("space:place: %v", err)
	}
	placed, ok := result.(*space.Placement)
	if !ok || placed == nil {
		t.Fatalf("expected a *Placement, got %#v", result)
	}

	move, _ := reg.Lookup("space:move")
	if _, err := move(ctx, map[string]any{"from": "table", "to": "hand", "placementId": placed.ID}); err != nil {
		t.Fatalf("space:move: %v", err)
	}
	if len(sp.Zone("hand")) != 1 {
		t.Fatalf("expected the placement to now be in hand")
	}
}

func TestSpacePackDrawFromZone(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	st, _ := stack.New(chron, chronicle.KeyStack, deck(3))
	sp, _ := space.New(chron, chronicle.KeyZones)
	reg := action.NewRegistry()
	reg.RegisterPack(SpacePack(map[string]*space.Space{"default": sp}, map[string]*stack.Stack{"deck": st}))

	place, _ := reg.Lookup("space:place")
	result, err := place(&recordingCtx{}, map[string]any{"zone": "table", "fromStack": "deck"})
	if err != nil {
		t.Fatalf("space:place fromStack: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a placement result")
	}
	if st.Size() != 2 {
		t.Fatalf("expected the stack to shrink by one, got size %d", st.Size())
	}
}

func TestSourcePackDraw(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	s1, _ := stack.New(chron, "pile1", deck(2))
	src := source.New(chron, "srcSeed", []*stack.Stack{s1}, source.Policy{Threshold: 0, Mode: source.ModeManual})
	reg := action.NewRegistry()
	reg.RegisterPack(SourcePack(map[string]*source.Source{"default": src}))

	draw, _ := reg.Lookup("source:draw")
	result, err := draw(&recordingCtx{}, map[string]any{"count": float64(2)})
	if err != nil {
		t.Fatalf("source:draw: %v", err)
	}
	if tokens, ok := result.([]token.Token); !ok || len(tokens) != 2 {
		t.Fatalf("expected 2 drawn tokens, got %#v", result)
	}
}

func TestAgentPackCreateDrawTransfer(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	reg := action.NewRegistry()
	reg.RegisterPack(AgentPack(chron, chronicle.KeyAgents))
	ctx := &recordingCtx{}

	create, _ := reg.Lookup("agent:create")
	if _, err := create(ctx, map[string]any{"id": "p1", "name": "Alice"}); err != nil {
		t.Fatalf("agent:create p1: %v", err)
	}
	if _, err := create(ctx, map[string]any{"id": "p2", "name": "Bob"}); err != nil {
		t.Fatalf("agent:create p2: %v", err)
	}

	drawH, _ := reg.Lookup("agent:draw")
	if _, err := drawH(ctx, map[string]any{"id": "p1", "tokens": []any{map[string]any{"id": "c1"}}}); err != nil {
		t.Fatalf("agent:draw: %v", err)
	}

	transfer, _ := reg.Lookup("agent:transfer")
	result, err := transfer(ctx, map[string]any{"from": "p1", "to": "p2", "token": "c1"})
	if err != nil {
		t.Fatalf("agent:transfer: %v", err)
	}
	tr, ok := result.(agent.TransferResult)
	if !ok || !tr.Success {
		t.Fatalf("expected a successful transfer, got %#v", result)
	}
}

func TestAgentPackTradeAndSteal(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	reg := action.NewRegistry()
	reg.RegisterPack(AgentPack(chron, chronicle.KeyAgents))
	ctx := &recordingCtx{}

	create, _ := reg.Lookup("agent:create")
	create(ctx, map[string]any{"id": "p1", "name": "Alice"})
	create(ctx, map[string]any{"id": "p2", "name": "Bob"})

	drawH, _ := reg.Lookup("agent:draw")
	drawH(ctx, map[string]any{"id": "p1", "tokens": []any{map[string]any{"id": "wheat"}}})
	drawH(ctx, map[string]any{"id": "p2", "tokens": []any{map[string]any{"id": "ore"}}})

	trade, _ := reg.Lookup("agent:trade")
	result, err := trade(ctx, map[string]any{
		"agent1": map[string]any{"name": "p1", "offer": []any{"wheat"}},
		"agent2": map[string]any{"name": "p2", "offer": []any{"ore"}},
	})
	if err != nil {
		t.Fatalf("agent:trade: %v", err)
	}
	if tr, ok := result.(agent.TransferResult); !ok || !tr.Success {
		t.Fatalf("expected a successful trade, got %#v", result)
	}

	drawH(ctx, map[string]any{"id": "p1", "tokens": []any{map[string]any{"id": "gem"}}})
	steal, _ := reg.Lookup("agent:steal")
	stealResult, err := steal(ctx, map[string]any{"from": "p1", "to": "p2", "token": "gem", "validate": true})
	if err != nil {
		t.Fatalf("agent:steal: %v", err)
	}
	if sr, ok := stealResult.(agent.TransferResult); !ok || !sr.Success {
		t.Fatalf("expected a successful steal, got %#v", stealResult)
	}
}

func TestRulePackAddRemoveReset(t *testing.T) {
	ps := action.NewPolicySet()
	reg := action.NewRegistry()
	reg.RegisterPack(RulePack(ps))
	ctx := &recordingCtx{}

	add, _ := reg.Lookup("rule:add")
	if _, err := add(ctx, map[string]any{"name": "placeholder", "priority": float64(5)}); err != nil {
		t.Fatalf("rule:add: %v", err)
	}

	remove, _ := reg.Lookup("rule:remove")
	if _, err := remove(ctx, map[string]any{"name": "placeholder"}); err != nil {
		t.Fatalf("rule:remove: %v", err)
	}

	reset, _ := reg.Lookup("rule:reset")
	if _, err := reset(ctx, nil); err != nil {
		t.Fatalf("rule:reset: %v", err)
	}
}

func TestRulePackAddWithScriptFiresEffect(t *testing.T) {
	ps := action.NewPolicySet()
	reg := action.NewRegistry()
	reg.RegisterPack(RulePack(ps))
	ctx := &recordingCtx{}

	add, _ := reg.Lookup("rule:add")
	_, err := add(ctx, map[string]any{
		"name": "on-draw",
		"when": `action.type === "stack:draw"`,
		"then": `emit("rule:draw-seen", {note: "fired"})`,
	})
	if err != nil {
		t.Fatalf("rule:add: %v", err)
	}

	drawAction := action.New("stack:draw", nil)
	ps.Evaluate(ctx, &drawAction, func(e action.PolicyErrorEvent) {
		t.Fatalf("unexpected policy error: %v", e.Err)
	})

	found := false
	for _, e := range ctx.emitted {
		if e == "rule:draw-seen" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the scripted rule's effect to emit rule:draw-seen, got %v", ctx.emitted)
	}
}

func TestDebugPackLogEmits(t *testing.T) {
	reg := action.NewRegistry()
	reg.RegisterPack(DebugPack())
	ctx := &recordingCtx{}

	logH, _ := reg.Lookup("debug:log")
	if _, err := logH(ctx, map[string]any{"message": "hello"}); err != nil {
		t.Fatalf("debug:log: %v", err)
	}
	if len(ctx.emitted) != 1 || ctx.emitted[0] != "debug:log" {
		t.Fatalf("expected one debug:log emission, got %v", ctx.emitted)
	}
}
