// Package stack implements an ordered deck of tokens backed by a Chronicle
// subtree: the live pile, drawn pile, and discard pile described in the
// DATA MODEL. Every mutating operation is a single Chronicle change; the
// in-memory Stack value is a read-through projection, never the source of
// truth.
package stack

import (
	"errors"
	"fmt"

	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/prng"
	"github.com/rakunlabs/chronicle/token"
)

// ErrStackEmpty is returned by Draw/Burn when fewer tokens remain than
// requested and the caller did not set AllowShort.
var ErrStackEmpty = errors.New("stack: not enough tokens remaining")

// doc is the JSON shape stored at the Chronicle key this Stack owns.
type doc struct {
	Live     []token.Token `json:"stack"`
	Drawn    []token.Token `json:"drawn"`
	Discards []token.Token `json:"discards"`
	Original []token.Token `json:"original"`
	LastSeed uint32        `json:"lastSeed"`
}

// Stack is a handle onto one Chronicle subtree. Multiple Stack values may
// point at the same key; each reads the authoritative state fresh on every
// call.
type Stack struct {
	chron *chronicle.Chronicle
	key   string
}

// New creates a Stack bound to chron's key, seeding it with tokens (cloned,
// in the given order) as the live pile. Key is typically
// chronicle.KeyStack, but embedders may mount multiple Stacks under their
// own keys.
func New(chron *chronicle.Chronicle, key string, tokens []token.Token) (*Stack, error) {
	s := &Stack{chron: chron, key: key}

	original := token.CloneSlice(tokens)
	err := chron.Change("stack:init", func(d *chronicle.Draft) error {
		d.Set(key, docToAny(doc{
			Live:     token.CloneSlice(tokens),
			Original: original,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open attaches a Stack handle to an existing Chronicle key (e.g. after
// loading a persisted document).
func Open(chron *chronicle.Chronicle, key string) *Stack {
	return &Stack{chron: chron, key: key}
}

func (s *Stack) read() doc {
	v, ok := s.chron.View()[s.key]
	if !ok {
		return doc{}
	}
	return docFromAny(v)
}

// Tokens returns the current live pile, top (drawable end) last.
func (s *Stack) Tokens() []token.Token {
	return token.CloneSlice(s.read().Live)
}

// Size returns the number of tokens remaining in the live pile.
func (s *Stack) Size() int {
	return len(s.read().Live)
}

// Drawn returns the tokens removed by Draw so far.
func (s *Stack) Drawn() []token.Token {
	return token.CloneSlice(s.read().Drawn)
}

// Discards returns the tokens removed by Burn so far.
func (s *Stack) Discards() []token.Token {
	return token.CloneSlice(s.read().Discards)
}

// DrawOptions configures Draw.
type DrawOptions struct {
	// AllowShort, when true, makes Draw return fewer than Count tokens
	// (possibly zero) instead of failing when the live pile is short.
	AllowShort bool
}

// Draw removes up to count tokens from the tail of the live pile and
// appends them to drawn, returning them in the order they were removed
// (first-drawn first). It fails with ErrStackEmpty when count exceeds the
// number remaining, unless opts.AllowShort is set.
func (s *Stack) Draw(count int, opts DrawOptions) ([]token.Token, error) {
	if count < 0 {
		return nil, fmt.Errorf("stack: draw count must be non-negative, got %d", count)
	}

	var drawn []token.Token
	err := s.chron.Change("stack:draw", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)

		n := count
		if n > len(cur.Live) {
			if !opts.AllowShort {
				return ErrStackEmpty
			}
			n = len(cur.Live)
		}

		tail := cur.Live[len(cur.Live)-n:]
		drawn = reverseTokens(token.CloneSlice(tail))
		cur.Live = cur.Live[:len(cur.Live)-n]
		cur.Drawn = append(cur.Drawn, drawn...)

		d.Set(s.key, docToAny(cur))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token.CloneSlice(drawn), nil
}

// Burn removes count tokens from the tail of the live pile into discards,
// returning them. Same short-draw semantics as Draw.
func (s *Stack) Burn(count int, opts DrawOptions) ([]token.Token, error) {
	if count < 0 {
		return nil, fmt.Errorf("stack: burn count must be non-negative, got %d", count)
	}

	var burned []token.Token
	err := s.chron.Change("stack:burn", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)

		n := count
		if n > len(cur.Live) {
			if !opts.AllowShort {
				return ErrStackEmpty
			}
			n = len(cur.Live)
		}

		tail := cur.Live[len(cur.Live)-n:]
		burned = reverseTokens(token.CloneSlice(tail))
		cur.Live = cur.Live[:len(cur.Live)-n]
		cur.Discards = append(cur.Discards, burned...)

		d.Set(s.key, docToAny(cur))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token.CloneSlice(burned), nil
}

// reverseTokens reverses ts in place and returns it, so the tail of the
// live pile (top = end) is reported top-first: the natural order in which
// those tokens were actually removed.
func reverseTokens(ts []token.Token) []token.Token {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
	return ts
}

// Shuffle reorders the live pile in place using a Fisher-Yates shuffle
// driven by the seeded PRNG. If seed is nil, a fresh random seed is drawn
// and recorded into Chronicle so the shuffle remains reproducible on
// replay. A live pile of 0 or 1 tokens is a no-op.
func (s *Stack) Shuffle(seed *uint32) error {
	return s.chron.Change("stack:shuffle", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		if len(cur.Live) < 2 {
			return nil
		}

		usedSeed := prng.RandomSeed()
		if seed != nil {
			usedSeed = *seed
		}

		src := prng.New(usedSeed)
		src.Shuffle(len(cur.Live), func(i, j int) {
			cur.Live[i], cur.Live[j] = cur.Live[j], cur.Live[i]
		})
		cur.LastSeed = usedSeed

		d.Set(s.key, docToAny(cur))
		return nil
	})
}

// Reset returns drawn and discarded tokens to the live pile in the
// original insertion order, discarding all shuffle history.
func (s *Stack) Reset() error {
	return s.chron.Change("stack:reset", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		d.Set(s.key, docToAny(doc{
			Live:     token.CloneSlice(cur.Original),
			Original: token.CloneSlice(cur.Original),
		}))
		return nil
	})
}

// ReclaimDiscards moves every token currently in the discard pile to the
// tail of the live pile, in the order the discards were accumulated, and
// empties the discard pile. It does not touch the drawn pile. This is the
// building block Source.Reshuffle uses to fold a constituent's discards
// back before reshuffling, without disturbing tokens still in other
// agents' hands.
func (s *Stack) ReclaimDiscards() error {
	return s.chron.Change("stack:reclaim-discards", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		if len(cur.Discards) == 0 {
			return nil
		}
		cur.Live = append(cur.Live, cur.Discards...)
		cur.Discards = nil
		d.Set(s.key, docToAny(cur))
		return nil
	})
}

// Cut reorders the live pile by splitting it at index `at` and swapping
// the two halves: the token currently at index `at` becomes index 0 (the
// bottom) and the token just below it becomes the top.
func (s *Stack) Cut(at int) error {
	return s.chron.Change("stack:cut", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		if at < 0 || at > len(cur.Live) {
			return fmt.Errorf("stack: cut index %d out of range [0,%d]", at, len(cur.Live))
		}
		cur.Live = append(append([]token.Token{}, cur.Live[at:]...), cur.Live[:at]...)
		d.Set(s.key, docToAny(cur))
		return nil
	})
}

// Swap exchanges the tokens at positions i and j in the live pile.
func (s *Stack) Swap(i, j int) error {
	return s.chron.Change("stack:swap", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		if i < 0 || i >= len(cur.Live) || j < 0 || j >= len(cur.Live) {
			return fmt.Errorf("stack: swap indices (%d,%d) out of range [0,%d)", i, j, len(cur.Live))
		}
		cur.Live[i], cur.Live[j] = cur.Live[j], cur.Live[i]
		d.Set(s.key, docToAny(cur))
		return nil
	})
}

// InsertAt inserts tok into the live pile at index i, shifting later
// tokens up.
func (s *Stack) InsertAt(tok token.Token, i int) error {
	return s.chron.Change("stack:insert", func(d *chronicle.Draft) error {
		cur := s.docFromDraft(d)
		if i < 0 || i > len(cur.Live) {
			return fmt.Errorf("stack: insert index %d out of range [0,%d]", i, len(cur.Live))
		}
		out := make([]token.Token, 0, len(cur.Live)+1)
		out = append(out, cur.Live[:i]...)
		out = append(out, tok.Clone())
		out = append(out, cur.Live[i:]...)
		cur.Live = out
		d.Set(s.key, docToAny(cur))
		return nil
	})
}

// Peek returns (without removing) the top n tokens of the live pile,
// drawable-end first. It never errors: n is clamped to the pile size.
func (s *Stack) Peek(n int) []token.Token {
	live := s.read().Live
	if n > len(live) {
		n = len(live)
	}
	if n <= 0 {
		return nil
	}
	tail := live[len(live)-n:]
	out := token.CloneSlice(tail)
	// reverse so index 0 is the very top of the pile
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Stack) docFromDraft(d *chronicle.Draft) doc {
	v, ok := d.Get(s.key)
	if !ok {
		return doc{}
	}
	return docFromAny(v)
}

func docToAny(d doc) map[string]any {
	return map[string]any{
		"stack":    token.ToAny(d.Live),
		"drawn":    token.ToAny(d.Drawn),
		"discards": token.ToAny(d.Discards),
		"original": token.ToAny(d.Original),
		"lastSeed": float64(d.LastSeed),
	}
}

func docFromAny(v any) doc {
	m, ok := v.(map[string]any)
	if !ok {
		return doc{}
	}
	var out doc
	out.Live = token.FromAny(m["stack"])
	out.Drawn = token.FromAny(m["drawn"])
	out.Discards = token.FromAny(m["discards"])
	out.Original = token.FromAny(m["original"])
	if seed, ok := m["lastSeed"].(float64); ok {
		out.LastSeed = uint32(seed)
	}
	return out
}

