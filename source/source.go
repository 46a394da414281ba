// Package source implements the multi-Stack union view described in the
// DATA MODEL: an ordered list of constituent Stacks with a reshuffle
// policy, dispatching draw/burn across them as though they were one pile.
package source

import (
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/prng"
	"github.com/rakunlabs/chronicle/stack"
	"github.com/rakunlabs/chronicle/token"
)

// Mode selects how a Source reacts when its live token count drops to or
// below its reshuffle threshold.
type Mode string

const (
	// ModeAuto reshuffles discards back into live piles automatically.
	ModeAuto Mode = "auto"
	// ModeManual only emits "source:reshuffle-needed"; the embedder must
	// call Reshuffle explicitly.
	ModeManual Mode = "manual"
)

// Policy configures when and how a Source reshuffles.
type Policy struct {
	Threshold int
	Mode      Mode
}

// ReshuffleNeeded is the "source:reshuffle-needed" event payload emitted
// in ModeManual once the live count reaches the threshold.
type ReshuffleNeeded struct {
	Remaining int
}

// Source is a union view over an ordered list of Stacks, all rooted in the
// same Chronicle.
type Source struct {
	chron      *chronicle.Chronicle
	constituents []*stack.Stack
	policy     Policy
	seedKey    string
}

// New creates a Source over constituents (in order; draw exhausts the
// first before advancing to the next), governed by policy. seedKey is the
// Chronicle key used to persist the Source's own reshuffle seed lineage so
// Reshuffle's derived seeds remain reproducible on replay.
func New(chron *chronicle.Chronicle, seedKey string, constituents []*stack.Stack, policy Policy) *Source {
	return &Source{
		chron:      chron,
		constituents: constituents,
		policy:     policy,
		seedKey:    seedKey,
	}
}

// Remaining returns the total number of tokens left across every
// constituent's live pile.
func (s *Source) Remaining() int {
	total := 0
	for _, c := range s.constituents {
		total += c.Size()
	}
	return total
}

// Draw pulls count tokens from the head (index 0) constituent stack until
// it is empty, then advances to the next, mirroring Stack.Draw's
// short-draw semantics. After drawing, if the policy's threshold is
// reached, Draw triggers the policy's reaction (auto-reshuffle, or a
// reshuffle-needed event in manual mode).
func (s *Source) Draw(count int, opts stack.DrawOptions) ([]token.Token, error) {
	var out []token.Token
	remaining := count

	for _, c := range s.constituents {
		if remaining <= 0 {
			break
		}
		if c.Size() == 0 {
			continue
		}

		want := remaining
		if want > c.Size() {
			want = c.Size()
		}
		drawn, err := c.Draw(want, stack.DrawOptions{AllowShort: true})
		if err != nil {
			return out, err
		}
		out = append(out, drawn...)
		remaining -= len(drawn)
	}

	if remaining > 0 && !opts.AllowShort {
		return out, stack.ErrStackEmpty
	}

	if err := s.maybeReshuffle(); err != nil {
		return out, err
	}
	return out, nil
}

// Burn mirrors Draw but moves tokens to discards instead of the drawn
// pile.
func (s *Source) Burn(count int, opts stack.DrawOptions) ([]token.Token, error) {
	var out []token.Token
	remaining := count

	for _, c := range s.constituents {
		if remaining <= 0 {
			break
		}
		if c.Size() == 0 {
			continue
		}
		want := remaining
		if want > c.Size() {
			want = c.Size()
		}
		burned, err := c.Burn(want, stack.DrawOptions{AllowShort: true})
		if err != nil {
			return out, err
		}
		out = append(out, burned...)
		remaining -= len(burned)
	}

	if remaining > 0 && !opts.AllowShort {
		return out, stack.ErrStackEmpty
	}

	if err := s.maybeReshuffle(); err != nil {
		return out, err
	}
	return out, nil
}

// maybeReshuffle checks the policy threshold after a draw/burn and reacts
// according to s.policy.Mode.
func (s *Source) maybeReshuffle() error {
	if s.Remaining() > s.policy.Threshold {
		return nil
	}

	switch s.policy.Mode {
	case ModeAuto:
		return s.Reshuffle()
	default:
		s.chron.Events().Emit("source:reshuffle-needed", ReshuffleNeeded{Remaining: s.Remaining()})
		return nil
	}
}

// Reshuffle folds each constituent's own discards back into that same
// constituent's live pile -- never cross-pollinated into a different
// stack -- and reshuffles each constituent independently with a seed
// derived from the Source's base seed and the constituent's index. The
// relative order of constituents in the Source is untouched.
func (s *Source) Reshuffle() error {
	baseSeed := s.recordedSeed()

	for i, c := range s.constituents {
		if err := c.ReclaimDiscards(); err != nil {
			return err
		}
		derived := derivedSeed(baseSeed, i)
		if err := c.Shuffle(&derived); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) recordedSeed() uint32 {
	v, ok := s.chron.View()[s.seedKey]
	if ok {
		if f, ok := v.(float64); ok {
			return uint32(f)
		}
	}
	seed := prng.RandomSeed()
	_ = s.chron.Change("source:seed", func(d *chronicle.Draft) error {
		d.Set(s.seedKey, float64(seed))
		return nil
	})
	return seed
}

func derivedSeed(base uint32, index int) uint32 {
	src := prng.New(base + uint32(index)*0x9E3779B9)
	return src.Next()
}
