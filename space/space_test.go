package space

import (
	"errors"
	"testing"

	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/stack"
	"github.com/rakunlabs/chronicle/token"
)

func newTestSpace(t *testing.T) (*chronicle.Chronicle, *Space) {
	t.Helper()
	chron := chronicle.New("node-test", nil)
	sp, err := New(chron, chronicle.KeyZones)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return chron, sp
}

func TestPlaceCreatesZoneLazily(t *testing.T) {
	_, sp := newTestSpace(t)

	p, err := sp.Place("table", token.Token{ID: "card-1"}, PlaceOptions{})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if p == nil || p.TokenID != "card-1" {
		t.Fatalf("unexpected placement: %+v", p)
	}
	if len(sp.Zone("table")) != 1 {
		t.Fatalf("expected 1 placement in table, got %d", len(sp.Zone("table")))
	}
}

func TestPlaceRejectedOnLockedZone(t *testing.T) {
	_, sp := newTestSpace(t)
	if err := sp.LockZone("vault", true); err != nil {
		t.Fatalf("LockZone: %v", err)
	}

	p, err := sp.Place("vault", token.Token{ID: "gem"}, PlaceOptions{})
	if err != nil {
		t.Fatalf("Place should not error on a locked zone, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil placement for a locked zone, got %+v", p)
	}
	if len(sp.Zone("vault")) != 0 {
		t.Fatalf("locked zone must remain empty")
	}
}

func TestMovePreservesIdentityAndMergesOpts(t *testing.T) {
	_, sp := newTestSpace(t)
	p, _ := sp.Place("hand", token.Token{ID: "card-1"}, PlaceOptions{})

	x := 12.5
	if err := sp.Move("hand", "table", p.ID, PlaceOptions{X: &x}); err != nil {
		t.Fatalf("Move: %v", err)
	}

	if len(sp.Zone("hand")) != 0 {
		t.Fatalf("source zone should be empty after move")
	}
	table := sp.Zone("table")
	if len(table) != 1 {
		t.Fatalf("expected 1 placement in table, got %d", len(table))
	}
	if table[0].ID != p.ID {
		t.Fatalf("placement id not preserved across move: got %q want %q", table[0].ID, p.ID)
	}
	if table[0].X == nil || *table[0].X != x {
		t.Fatalf("expected merged x=%v, got %+v", x, table[0].X)
	}
}

func TestMoveFailsWhenEitherZoneLocked(t *testing.T) {
	_, sp := newTestSpace(t)
	p, _ := sp.Place("hand", token.Token{ID: "card-1"}, PlaceOptions{})
	if err := sp.LockZone("table", true); err != nil {
		t.Fatalf("LockZone: %v", err)
	}

	if err := sp.Move("hand", "table", p.ID, PlaceOptions{}); !errors.Is(err, ErrZoneLocked) {
		t.Fatalf("expected ErrZoneLocked, got %v", err)
	}
	if len(sp.Zone("hand")) != 1 {
		t.Fatalf("failed move must leave source zone untouched")
	}

	if err := sp.LockZone("table", false); err != nil {
		t.Fatalf("LockZone: %v", err)
	}
	if err := sp.LockZone("hand", true); err != nil {
		t.Fatalf("LockZone: %v", err)
	}
	if err := sp.Move("hand", "table", p.ID, PlaceOptions{}); !errors.Is(err, ErrZoneLocked) {
		t.Fatalf("expected ErrZoneLocked for locked source, got %v", err)
	}
}

func TestFlipTogglesWhenNilGiven(t *testing.T) {
	_, sp := newTestSpace(t)
	p, _ := sp.Place("table", token.Token{ID: "c"}, PlaceOptions{DefaultUp: false})

	if err := sp.Flip("table", p.ID, nil); err != nil {
		t.Fatalf("Flip: %v", err)
	}
	if !sp.Zone("table")[0].FaceUp {
		t.Fatalf("expected faceUp toggled to true")
	}

	if err := sp.Flip("table", p.ID, nil); err != nil {
		t.Fatalf("Flip: %v", err)
	}
	if sp.Zone("table")[0].FaceUp {
		t.Fatalf("expected faceUp toggled back to false")
	}
}

func TestRemoveAndClearZone(t *testing.T) {
	_, sp := newTestSpace(t)
	p1, _ := sp.Place("table", token.Token{ID: "a"}, PlaceOptions{})
	sp.Place("table", token.Token{ID: "b"}, PlaceOptions{})

	if err := sp.Remove("table", p1.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(sp.Zone("table")) != 1 {
		t.Fatalf("expected 1 placement left, got %d", len(sp.Zone("table")))
	}

	if err := sp.ClearZone("table"); err != nil {
		t.Fatalf("ClearZone: %v", err)
	}
	if len(sp.Zone("table")) != 0 {
		t.Fatalf("expected empty zone after ClearZone")
	}
}

func TestTransferZonePreservesOrder(t *testing.T) {
	_, sp := newTestSpace(t)
	sp.Place("src", token.Token{ID: "a"}, PlaceOptions{})
	sp.Place("src", token.Token{ID: "b"}, PlaceOptions{})
	sp.Place("dst", token.Token{ID: "z"}, PlaceOptions{})

	moved, err := sp.TransferZone("src", "dst")
	if err != nil {
		t.Fatalf("TransferZone: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved, got %d", moved)
	}

	dst := sp.Zone("dst")
	if len(dst) != 3 || dst[0].TokenID != "z" || dst[1].TokenID != "a" || dst[2].TokenID != "b" {
		t.Fatalf("unexpected dst order: %+v", dst)
	}
	if len(sp.Zone("src")) != 0 {
		t.Fatalf("expected src zone emptied")
	}
}

func TestShuffleZoneNoopOnTrivial(t *testing.T) {
	_, sp := newTestSpace(t)
	sp.Place("table", token.Token{ID: "only"}, PlaceOptions{})

	seed := uint32(9)
	if err := sp.ShuffleZone("table", &seed); err != nil {
		t.Fatalf("ShuffleZone: %v", err)
	}
	if sp.Zone("table")[0].TokenID != "only" {
		t.Fatalf("single-placement shuffle must be a no-op")
	}
}

func TestSpreadZoneLinearIsDeterministic(t *testing.T) {
	_, sp := newTestSpace(t)
	sp.Place("row", token.Token{ID: "a"}, PlaceOptions{})
	sp.Place("row", token.Token{ID: "b"}, PlaceOptions{})
	sp.Place("row", token.Token{ID: "c"}, PlaceOptions{})

	if err := sp.SpreadZone("row", SpreadOptions{Pattern: SpreadLinear, Radius: 10}); err != nil {
		t.Fatalf("SpreadZone: %v", err)
	}

	row := sp.Zone("row")
	for i, p := range row {
		want := float64(i) * 10
		if p.X == nil || *p.X != want {
			t.Fatalf("placement %d x = %v, want %v", i, p.X, want)
		}
		if p.Y == nil || *p.Y != 0 {
			t.Fatalf("placement %d y = %v, want 0", i, p.Y)
		}
	}
}

func TestDrawFromZoneAndReturnToStack(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	s, err := stack.New(chron, chronicle.KeyStack, []token.Token{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	sp, err := New(chron, chronicle.KeyZones)
	if err != nil {
		t.Fatalf("space.New: %v", err)
	}

	p, err := sp.DrawFromZone("table", s, PlaceOptions{})
	if err != nil {
		t.Fatalf("DrawFromZone: %v", err)
	}
	if p == nil || p.TokenID != "c" {
		t.Fatalf("expected to draw the top token (c), got %+v", p)
	}
	if s.Size() != 2 {
		t.Fatalf("expected stack size 2 after draw, got %d", s.Size())
	}

	byID := map[string]token.Token{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}
	lookup := func(id string) token.Token { return byID[id] }

	moved, err := sp.ReturnToStack(s, "table", 1, lookup)
	if err != nil {
		t.Fatalf("ReturnToStack: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved back, got %d", moved)
	}
	if s.Size() != 3 {
		t.Fatalf("expected stack size 3 after returning, got %d", s.Size())
	}
	if len(sp.Zone("table")) != 0 {
		t.Fatalf("expected table zone emptied by ReturnToStack")
	}
}

func TestCollectAllInto(t *testing.T) {
	chron := chronicle.New("node-test", nil)
	s, err := stack.New(chron, chronicle.KeyStack, nil)
	if err != nil {
		t.Fatalf("stack.New: %v", err)
	}
	sp, err := New(chron, chronicle.KeyZones)
	if err != nil {
		t.Fatalf("space.New: %v", err)
	}

	sp.Place("a", token.Token{ID: "x"}, PlaceOptions{})
	sp.Place("b", token.Token{ID: "y"}, PlaceOptions{})

	byID := map[string]token.Token{"x": {ID: "x"}, "y": {ID: "y"}}
	lookup := func(id string) token.Token { return byID[id] }

	n, err := sp.CollectAllInto(s, lookup)
	if err != nil {
		t.Fatalf("CollectAllInto: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 collected, got %d", n)
	}
	if s.Size() != 2 {
		t.Fatalf("expected stack to hold 2 tokens, got %d", s.Size())
	}
	for _, name := range sp.ZoneNames() {
		if len(sp.Zone(name)) != 0 {
			t.Fatalf("zone %q not emptied by CollectAllInto", name)
		}
	}
}
