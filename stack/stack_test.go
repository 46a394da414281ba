package stack

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/prng"
	"github.com/rakunlabs/chronicle/token"
)

func deck52() []token.Token {
	out := make([]token.Token, 52)
	for i := range out {
		out[i] = token.Token{ID: fmt.Sprintf("card-%d", i), Index: i}
	}
	return out
}

func newTestStack(t *testing.T, tokens []token.Token) *Stack {
	t.Helper()
	chron := chronicle.New("node-test", nil)
	s, err := New(chron, chronicle.KeyStack, tokens)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestDrawRemovesFromTailAppendsToDrawn(t *testing.T) {
	s := newTestStack(t, deck52())

	drawn, err := s.Draw(5, DrawOptions{})
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if len(drawn) != 5 {
		t.Fatalf("expected 5 drawn tokens, got %d", len(drawn))
	}
	// Drawn from the tail: card-51 first, down to card-47.
	want := []string{"card-51", "card-50", "card-49", "card-48", "card-47"}
	for i, tok := range drawn {
		if tok.ID != want[i] {
			t.Fatalf("drawn[%d] = %q, want %q", i, tok.ID, want[i])
		}
	}
	if s.Size() != 47 {
		t.Fatalf("expected 47 remaining, got %d", s.Size())
	}
	if len(s.Drawn()) != 5 {
		t.Fatalf("expected 5 tokens in drawn pile, got %d", len(s.Drawn()))
	}
}

func TestDrawOnEmptyFailsByDefault(t *testing.T) {
	s := newTestStack(t, deck52())

	if _, err := s.Draw(100, DrawOptions{}); !errors.Is(err, ErrStackEmpty) {
		t.Fatalf("expected ErrStackEmpty, got %v", err)
	}
	if s.Size() != 52 {
		t.Fatalf("failed draw must not mutate the stack, size=%d", s.Size())
	}
}

func TestDrawAllowShortReturnsWhatRemains(t *testing.T) {
	s := newTestStack(t, deck52())
	if _, err := s.Draw(50, DrawOptions{}); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	drawn, err := s.Draw(10, DrawOptions{AllowShort: true})
	if err != nil {
		t.Fatalf("Draw with AllowShort: %v", err)
	}
	if len(drawn) != 2 {
		t.Fatalf("expected 2 remaining tokens returned, got %d", len(drawn))
	}
	if s.Size() != 0 {
		t.Fatalf("expected empty stack, got size %d", s.Size())
	}
}

func TestBurnMovesToDiscards(t *testing.T) {
	s := newTestStack(t, deck52())

	burned, err := s.Burn(3, DrawOptions{})
	if err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if len(burned) != 3 || len(s.Discards()) != 3 {
		t.Fatalf("expected 3 burned tokens in discards, got %d/%d", len(burned), len(s.Discards()))
	}
	if s.Size() != 49 {
		t.Fatalf("expected 49 remaining, got %d", s.Size())
	}
}

func TestMultisetInvariantAcrossOperations(t *testing.T) {
	s := newTestStack(t, deck52())

	seed := uint32(42)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(s.Shuffle(&seed))
	if _, err := s.Draw(5, DrawOptions{}); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if _, err := s.Burn(3, DrawOptions{}); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	must(s.Cut(10))
	must(s.Swap(0, 1))

	seen := make(map[string]bool, 52)
	for _, tok := range s.Tokens() {
		seen[tok.ID] = true
	}
	for _, tok := range s.Drawn() {
		seen[tok.ID] = true
	}
	for _, tok := range s.Discards() {
		seen[tok.ID] = true
	}
	if len(seen) != 52 {
		t.Fatalf("multiset invariant broken: expected 52 distinct tokens across all piles, got %d", len(seen))
	}
}

func TestResetRestoresOriginalOrder(t *testing.T) {
	original := deck52()
	s := newTestStack(t, original)

	seed := uint32(7)
	if err := s.Shuffle(&seed); err != nil {
		t.Fatalf("Shuffle: %v", err)
	}
	if _, err := s.Draw(10, DrawOptions{}); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if _, err := s.Burn(5, DrawOptions{}); err != nil {
		t.Fatalf("Burn: %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if s.Size() != 52 {
		t.Fatalf("expected full pile after reset, got %d", s.Size())
	}
	got := s.Tokens()
	for i, tok := range got {
		if tok.ID != original[i].ID {
			t.Fatalf("reset order mismatch at %d: got %q, want %q", i, tok.ID, original[i].ID)
		}
	}
}

func TestShuffleSameSeedSameOutcomeAcrossReplicas(t *testing.T) {
	a := newTestStack(t, deck52())
	b := newTestStack(t, deck52())

	seed := uint32(424242)
	if err := a.Shuffle(&seed); err != nil {
		t.Fatalf("a.Shuffle: %v", err)
	}
	if err := b.Shuffle(&seed); err != nil {
		t.Fatalf("b.Shuffle: %v", err)
	}

	aTokens, bTokens := a.Tokens(), b.Tokens()
	if len(aTokens) != len(bTokens) {
		t.Fatalf("length mismatch")
	}
	for i := range aTokens {
		if aTokens[i].ID != bTokens[i].ID {
			t.Fatalf("same-seed shuffle diverged at index %d: %q vs %q", i, aTokens[i].ID, bTokens[i].ID)
		}
	}

	drawnA, _ := a.Draw(5, DrawOptions{})
	drawnB, _ := b.Draw(5, DrawOptions{})
	for i := range drawnA {
		if drawnA[i].ID != drawnB[i].ID {
			t.Fatalf("same-seed deal diverged at draw %d: %q vs %q", i, drawnA[i].ID, drawnB[i].ID)
		}
	}
}

func TestShuffleNoopOnTrivialPiles(t *testing.T) {
	single := newTestStack(t, []token.Token{{ID: "only"}})
	seed := uint32(1)
	if err := single.Shuffle(&seed); err != nil {
		t.Fatalf("Shuffle: %v", err)
	}
	if got := single.Tokens(); len(got) != 1 || got[0].ID != "only" {
		t.Fatalf("single-element shuffle must be a no-op, got %+v", got)
	}

	empty := newTestStack(t, nil)
	if err := empty.Shuffle(&seed); err != nil {
		t.Fatalf("Shuffle on empty: %v", err)
	}
	if empty.Size() != 0 {
		t.Fatalf("empty shuffle must remain empty")
	}
}

func TestPeekNonMutating(t *testing.T) {
	s := newTestStack(t, deck52())

	top := s.Peek(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 peeked tokens, got %d", len(top))
	}
	if top[0].ID != "card-51" || top[1].ID != "card-50" || top[2].ID != "card-49" {
		t.Fatalf("peek order mismatch: %+v", top)
	}
	if s.Size() != 52 {
		t.Fatalf("peek must not mutate the stack, size=%d", s.Size())
	}
}

func TestInsertAtAndSwap(t *testing.T) {
	s := newTestStack(t, []token.Token{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	if err := s.InsertAt(token.Token{ID: "x"}, 1); err != nil {
		t.Fatalf("InsertAt: %v", err)
	}
	got := s.Tokens()
	ids := func(ts []token.Token) []string {
		out := make([]string, len(ts))
		for i, tk := range ts {
			out[i] = tk.ID
		}
		return out
	}
	want := []string{"a", "x", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("InsertAt result = %v, want %v", ids(got), want)
		}
	}

	if err := s.Swap(0, 3); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	got = s.Tokens()
	if got[0].ID != "c" || got[3].ID != "a" {
		t.Fatalf("Swap result = %v", ids(got))
	}
}

func TestCutRotatesAroundIndex(t *testing.T) {
	s := newTestStack(t, []token.Token{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})
	if err := s.Cut(2); err != nil {
		t.Fatalf("Cut: %v", err)
	}
	got := s.Tokens()
	want := []string{"c", "d", "a", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("Cut result mismatch at %d: got %q want %q", i, got[i].ID, id)
		}
	}
}

func TestShuffleRecordsSeedWhenOmitted(t *testing.T) {
	s := newTestStack(t, deck52())
	if err := s.Shuffle(nil); err != nil {
		t.Fatalf("Shuffle: %v", err)
	}
	d := s.read()
	if d.LastSeed == 0 {
		// A genuinely random seed landing on exactly zero is astronomically
		// unlikely; treat it as evidence RandomSeed never ran.
		t.Fatalf("expected a recorded non-zero random seed, got 0")
	}

	// Replaying the recorded seed against a fresh deck must reproduce the
	// same order -- this is what makes an unseeded shuffle still replayable.
	replay := newTestStack(t, deck52())
	seed := d.LastSeed
	if err := replay.Shuffle(&seed); err != nil {
		t.Fatalf("replay Shuffle: %v", err)
	}
	want, got := s.Tokens(), replay.Tokens()
	for i := range want {
		if want[i].ID != got[i].ID {
			t.Fatalf("replaying the recorded seed did not reproduce the shuffle at index %d", i)
		}
	}
}

func TestPrngDeterminismAcrossIndependentSources(t *testing.T) {
	a := prng.New(prng.HashSeed("seed-42"))
	b := prng.New(prng.HashSeed("seed-42"))
	for i := 0; i < 100; i++ {
		if a.Next() != b.Next() {
			t.Fatalf("two PRNG sources with the same string seed diverged at step %d", i)
		}
	}
}
