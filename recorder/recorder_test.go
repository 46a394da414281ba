package recorder

import (
	"testing"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/engine"
)

func newTestEngine(t *testing.T) (*engine.Engine, *chronicle.Chronicle) {
	t.Helper()
	reg := action.NewRegistry()
	reg.Register("set", func(ctx action.Context, payload map[string]any) (any, error) {
		return nil, nil
	})
	reg.Register("fail", func(ctx action.Context, payload map[string]any) (any, error) {
		return nil, errFail
	})
	chron := chronicle.New("node-a", nil)
	return engine.New(chron, reg, action.NewPolicySet(), engine.Sync), chron
}

type sentinel string

func (e sentinel) Error() string { return string(e) }

const errFail = sentinel("boom")

func TestRecorderCapturesSuccessfulDispatches(t *testing.T) {
	eng, chron := newTestEngine(t)
	r := New(chron)

	eng.Dispatch(action.New("set", map[string]any{"x": "1"}))
	eng.Dispatch(action.New("set", map[string]any{"x": "2"}))
	eng.Dispatch(action.New("fail", nil))

	log := r.Log()
	if len(log) != 2 {
		t.Fatalf("expected 2 recorded entries (failures excluded), got %d", len(log))
	}
	if log[0].Type != "set" || log[1].Type != "set" {
		t.Fatalf("expected both entries to be type \"set\", got %+v", log)
	}
}

func TestReplayReproducesEqualState(t *testing.T) {
	eng1, chron1 := newTestEngine(t)
	r := New(chron1)

	eng1.Dispatch(action.New("set", map[string]any{"x": "1"}))
	eng1.Dispatch(action.New("set", map[string]any{"x": "2"}))

	log := r.Log()

	eng2, chron2 := newTestEngine(t)
	if err := Replay(eng2, log); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	s1, s2 := chron1.State(), chron2.State()
	if !s1.Equal(s2) {
		t.Fatalf("expected replayed chronicle to equal the original, got %+v vs %+v", s1.Data, s2.Data)
	}
}

func TestMarshalAndLoadLogRoundTrip(t *testing.T) {
	eng, chron := newTestEngine(t)
	r := New(chron)
	eng.Dispatch(action.New("set", map[string]any{"x": "1"}))

	data, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	log, err := LoadLog(data)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if len(log) != 1 || log[0].Type != "set" {
		t.Fatalf("expected one \"set\" entry after round trip, got %+v", log)
	}
}

func TestLoadLogEmptyIsNil(t *testing.T) {
	log, err := LoadLog(nil)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if log != nil {
		t.Fatalf("expected nil log for empty input, got %v", log)
	}
}
