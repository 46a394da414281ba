// Package space implements named zones of positioned token placements,
// backed by a Chronicle subtree, as described in the DATA MODEL's Space
// entity.
package space

import (
	"errors"
	"math"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/prng"
	"github.com/rakunlabs/chronicle/stack"
	"github.com/rakunlabs/chronicle/token"
)

// ErrZoneLocked is returned by Move, Remove and TransferZone against a
// locked zone. Place does not return it; it returns a nil placement.
var ErrZoneLocked = errors.New("space: zone is locked")

// ErrPlacementNotFound is returned when a placement id does not exist in
// the given zone.
var ErrPlacementNotFound = errors.New("space: placement not found")

// Placement is a single token instance positioned inside a zone.
type Placement struct {
	ID      string       `json:"id"`
	TokenID string       `json:"tokenId"`
	X       *float64     `json:"x,omitempty"`
	Y       *float64     `json:"y,omitempty"`
	Rotation *float64    `json:"rotation,omitempty"`
	FaceUp  bool         `json:"faceUp"`
	Meta    token.Meta   `json:"meta,omitempty"`
}

func (p Placement) clone() Placement {
	c := p
	if p.X != nil {
		v := *p.X
		c.X = &v
	}
	if p.Y != nil {
		v := *p.Y
		c.Y = &v
	}
	if p.Rotation != nil {
		v := *p.Rotation
		c.Rotation = &v
	}
	if p.Meta != nil {
		c.Meta = p.Meta.Clone()
	}
	return c
}

type zone struct {
	Locked     bool        `json:"locked"`
	Placements []Placement `json:"placements"`
}

// PlaceOptions configures Place/Move.
type PlaceOptions struct {
	X          *float64
	Y          *float64
	Rotation   *float64
	FaceUp     *bool
	DefaultUp  bool
	Meta       token.Meta
}

// SpreadPattern selects the geometry SpreadZone recomputes coordinates
// with.
type SpreadPattern string

const (
	SpreadArc    SpreadPattern = "arc"
	SpreadLinear SpreadPattern = "linear"
)

// SpreadOptions configures SpreadZone.
type SpreadOptions struct {
	Pattern   SpreadPattern
	AngleStep float64
	Radius    float64
}

// Space is a handle onto a Chronicle subtree holding zone → placements.
type Space struct {
	chron *chronicle.Chronicle
	key   string
}

// New creates a Space bound to chron's key, initially with no zones.
func New(chron *chronicle.Chronicle, key string) (*Space, error) {
	sp := &Space{chron: chron, key: key}
	err := chron.Change("space:init", func(d *chronicle.Draft) error {
		if _, ok := d.Get(key); !ok {
			d.Set(key, map[string]any{})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// Open attaches a Space handle to an existing Chronicle key.
func Open(chron *chronicle.Chronicle, key string) *Space {
	return &Space{chron: chron, key: key}
}

// Place appends a new placement for tok to zone, creating the zone lazily
// if it does not yet exist. Returns nil, nil if the zone is locked.
func (sp *Space) Place(zoneName string, tok token.Token, opts PlaceOptions) (*Placement, error) {
	var result *Placement
	err := sp.chron.Change("space:place", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]
		if z.Locked {
			return nil
		}

		p := Placement{
			ID:      ulid.Make().String(),
			TokenID: tok.ID,
			X:       opts.X,
			Y:       opts.Y,
			Rotation: opts.Rotation,
			FaceUp:  opts.DefaultUp,
		}
		if opts.FaceUp != nil {
			p.FaceUp = *opts.FaceUp
		}
		if opts.Meta != nil {
			p.Meta = opts.Meta.Clone()
		}

		z.Placements = append(z.Placements, p)
		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))

		out := p.clone()
		result = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Move relocates the placement identified by placementId from fromZone to
// toZone, preserving its id and merging opts over its existing fields.
// Fails (returns ErrZoneLocked) if either zone is locked, and fails
// (ErrPlacementNotFound) if the placement does not exist in fromZone. On
// failure the Space is left untouched.
func (sp *Space) Move(fromZone, toZone, placementID string, opts PlaceOptions) error {
	return sp.chron.Change("space:move", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		src := zones[fromZone]
		dst := zones[toZone]
		if src.Locked || dst.Locked {
			return ErrZoneLocked
		}

		idx := findPlacement(src.Placements, placementID)
		if idx < 0 {
			return ErrPlacementNotFound
		}

		p := src.Placements[idx]
		src.Placements = append(append([]Placement{}, src.Placements[:idx]...), src.Placements[idx+1:]...)

		if opts.X != nil {
			p.X = opts.X
		}
		if opts.Y != nil {
			p.Y = opts.Y
		}
		if opts.Rotation != nil {
			p.Rotation = opts.Rotation
		}
		if opts.FaceUp != nil {
			p.FaceUp = *opts.FaceUp
		}
		if opts.Meta != nil {
			p.Meta = opts.Meta.Clone()
		}

		dst.Placements = append(dst.Placements, p)

		zones[fromZone] = src
		zones[toZone] = dst
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// Flip sets the placement's faceUp flag to *faceUp, or toggles it when
// faceUp is nil.
func (sp *Space) Flip(zoneName, placementID string, faceUp *bool) error {
	return sp.chron.Change("space:flip", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]

		idx := findPlacement(z.Placements, placementID)
		if idx < 0 {
			return ErrPlacementNotFound
		}

		if faceUp != nil {
			z.Placements[idx].FaceUp = *faceUp
		} else {
			z.Placements[idx].FaceUp = !z.Placements[idx].FaceUp
		}
		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// Remove deletes a placement from a zone.
func (sp *Space) Remove(zoneName, placementID string) error {
	return sp.chron.Change("space:remove", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]
		if z.Locked {
			return ErrZoneLocked
		}

		idx := findPlacement(z.Placements, placementID)
		if idx < 0 {
			return ErrPlacementNotFound
		}
		z.Placements = append(append([]Placement{}, z.Placements[:idx]...), z.Placements[idx+1:]...)
		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// ClearZone removes every placement from a zone without deleting the zone
// itself (its locked flag is preserved).
func (sp *Space) ClearZone(zoneName string) error {
	return sp.chron.Change("space:clear", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]
		z.Placements = nil
		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// DeleteZone removes a zone entirely.
func (sp *Space) DeleteZone(zoneName string) error {
	return sp.chron.Change("space:delete-zone", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		delete(zones, zoneName)
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// LockZone sets (or clears) a zone's locked flag, creating it lazily.
func (sp *Space) LockZone(zoneName string, locked bool) error {
	return sp.chron.Change("space:lock", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]
		z.Locked = locked
		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// TransferZone bulk-moves every placement from src to dst, preserving
// order, and returns the count moved. Fails if either zone is locked.
func (sp *Space) TransferZone(src, dst string) (int, error) {
	var moved int
	err := sp.chron.Change("space:transfer", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		srcZone := zones[src]
		dstZone := zones[dst]
		if srcZone.Locked || dstZone.Locked {
			return ErrZoneLocked
		}

		moved = len(srcZone.Placements)
		dstZone.Placements = append(dstZone.Placements, srcZone.Placements...)
		srcZone.Placements = nil

		zones[src] = srcZone
		zones[dst] = dstZone
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// ShuffleZone reorders a zone's placements using the seeded PRNG. A zone of
// 0 or 1 placements is a no-op.
func (sp *Space) ShuffleZone(zoneName string, seed *uint32) error {
	return sp.chron.Change("space:shuffle", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]
		if len(z.Placements) < 2 {
			return nil
		}

		usedSeed := prng.RandomSeed()
		if seed != nil {
			usedSeed = *seed
		}
		src := prng.New(usedSeed)
		src.Shuffle(len(z.Placements), func(i, j int) {
			z.Placements[i], z.Placements[j] = z.Placements[j], z.Placements[i]
		})

		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

// SpreadZone recomputes x/y/rotation for every placement in a zone as a
// pure function of its index and the given pattern parameters.
func (sp *Space) SpreadZone(zoneName string, opts SpreadOptions) error {
	return sp.chron.Change("space:spread", func(d *chronicle.Draft) error {
		zones := sp.zonesFromDraft(d)
		z := zones[zoneName]

		for i := range z.Placements {
			x, y, rot := spreadCoords(i, len(z.Placements), opts)
			z.Placements[i].X = &x
			z.Placements[i].Y = &y
			z.Placements[i].Rotation = &rot
		}

		zones[zoneName] = z
		d.Set(sp.key, zonesToAny(zones))
		return nil
	})
}

func spreadCoords(i, n int, opts SpreadOptions) (x, y, rotation float64) {
	switch opts.Pattern {
	case SpreadArc:
		angle := float64(i) * opts.AngleStep
		return opts.Radius * math.Cos(angle), opts.Radius * math.Sin(angle), angle
	default: // SpreadLinear
		return float64(i) * opts.Radius, 0, 0
	}
}

// Zone returns a deep copy of a zone's current placements, in order.
func (sp *Space) Zone(zoneName string) []Placement {
	zones := sp.zones()
	z := zones[zoneName]
	out := make([]Placement, len(z.Placements))
	for i, p := range z.Placements {
		out[i] = p.clone()
	}
	return out
}

// IsLocked reports whether a zone is locked.
func (sp *Space) IsLocked(zoneName string) bool {
	return sp.zones()[zoneName].Locked
}

// ZoneNames returns every zone currently known to the Space, sorted for
// determinism.
func (sp *Space) ZoneNames() []string {
	zones := sp.zones()
	out := make([]string, 0, len(zones))
	for name := range zones {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DrawFromZone draws one token off the top of s and places it into
// zoneName (the Space-side counterpart of Stack.Draw), returning the new
// placement. If s is empty, no placement is created and DrawFromZone
// returns nil, nil.
func (sp *Space) DrawFromZone(zoneName string, s *stack.Stack, opts PlaceOptions) (*Placement, error) {
	drawn, err := s.Draw(1, stack.DrawOptions{AllowShort: true})
	if err != nil {
		return nil, err
	}
	if len(drawn) == 0 {
		return nil, nil
	}
	return sp.Place(zoneName, drawn[0], opts)
}

// PushToZone places tok into zoneName, the mirror helper of DrawFromZone.
func (sp *Space) PushToZone(zoneName string, tok token.Token, opts PlaceOptions) (*Placement, error) {
	return sp.Place(zoneName, tok, opts)
}

// ReturnToStack removes up to n placements from the tail of zoneName and
// re-inserts their tokens at the head of s's live pile, in the order
// removed.
func (sp *Space) ReturnToStack(s *stack.Stack, zoneName string, n int, lookup func(tokenID string) token.Token) (int, error) {
	placements := sp.Zone(zoneName)
	if n > len(placements) {
		n = len(placements)
	}
	if n <= 0 {
		return 0, nil
	}

	tail := placements[len(placements)-n:]
	for i := len(tail) - 1; i >= 0; i-- {
		if err := s.InsertAt(lookup(tail[i].TokenID), 0); err != nil {
			return 0, err
		}
	}

	for _, p := range tail {
		if err := sp.Remove(zoneName, p.ID); err != nil {
			return 0, err
		}
	}
	return len(tail), nil
}

// CollectAllInto removes every placement across every zone and appends
// their tokens to s's live pile, in zone-name then placement order.
func (sp *Space) CollectAllInto(s *stack.Stack, lookup func(tokenID string) token.Token) (int, error) {
	var collected int
	for _, name := range sp.ZoneNames() {
		placements := sp.Zone(name)
		for _, p := range placements {
			if err := s.InsertAt(lookup(p.TokenID), s.Size()); err != nil {
				return collected, err
			}
			if err := sp.Remove(name, p.ID); err != nil {
				return collected, err
			}
			collected++
		}
	}
	return collected, nil
}

func findPlacement(placements []Placement, id string) int {
	for i, p := range placements {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (sp *Space) zones() map[string]zone {
	v, ok := sp.chron.View()[sp.key]
	if !ok {
		return map[string]zone{}
	}
	return zonesFromAny(v)
}

func (sp *Space) zonesFromDraft(d *chronicle.Draft) map[string]zone {
	v, ok := d.Get(sp.key)
	if !ok {
		return map[string]zone{}
	}
	return zonesFromAny(v)
}

func zonesToAny(zones map[string]zone) map[string]any {
	out := make(map[string]any, len(zones))
	for name, z := range zones {
		placements := make([]any, len(z.Placements))
		for i, p := range z.Placements {
			entry := map[string]any{
				"id":      p.ID,
				"tokenId": p.TokenID,
				"faceUp":  p.FaceUp,
			}
			if p.X != nil {
				entry["x"] = *p.X
			}
			if p.Y != nil {
				entry["y"] = *p.Y
			}
			if p.Rotation != nil {
				entry["rotation"] = *p.Rotation
			}
			if p.Meta != nil {
				entry["meta"] = map[string]any(p.Meta.Clone())
			}
			placements[i] = entry
		}
		out[name] = map[string]any{
			"locked":     z.Locked,
			"placements": placements,
		}
	}
	return out
}

func zonesFromAny(v any) map[string]zone {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]zone{}
	}
	out := make(map[string]zone, len(m))
	for name, raw := range m {
		zm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var z zone
		if locked, ok := zm["locked"].(bool); ok {
			z.Locked = locked
		}
		if raw, ok := zm["placements"].([]any); ok {
			z.Placements = make([]Placement, 0, len(raw))
			for _, item := range raw {
				pm, ok := item.(map[string]any)
				if !ok {
					continue
				}
				var p Placement
				if id, ok := pm["id"].(string); ok {
					p.ID = id
				}
				if tid, ok := pm["tokenId"].(string); ok {
					p.TokenID = tid
				}
				if faceUp, ok := pm["faceUp"].(bool); ok {
					p.FaceUp = faceUp
				}
				if x, ok := pm["x"].(float64); ok {
					p.X = &x
				}
				if y, ok := pm["y"].(float64); ok {
					p.Y = &y
				}
				if rot, ok := pm["rotation"].(float64); ok {
					p.Rotation = &rot
				}
				if meta, ok := pm["meta"].(map[string]any); ok {
					p.Meta = token.Meta(meta).Clone()
				}
				z.Placements = append(z.Placements, p)
			}
		}
		out[name] = z
	}
	return out
}
