package action

import (
	"fmt"
	"sort"
	"sync"
)

// Policy is a condition/effect pair evaluated after every dispatched
// action, as described in the COMPONENT DESIGN section on the action
// pipeline.
type Policy struct {
	Name      string
	Condition func(ctx Context, lastAction *Action) bool
	Effect    func(ctx Context)
	Priority  int
	Once      bool
	Enabled   bool

	hits  int
	fired bool
}

// Hits returns how many times Effect has run for this policy.
func (p *Policy) Hits() int { return p.hits }

// Fired reports whether a Once policy has already triggered.
func (p *Policy) Fired() bool { return p.fired }

// PolicySet holds an engine's registered policies and evaluates them in
// priority order after each dispatch.
type PolicySet struct {
	mu       sync.Mutex
	policies map[string]*Policy
}

// NewPolicySet creates an empty PolicySet.
func NewPolicySet() *PolicySet {
	return &PolicySet{policies: make(map[string]*Policy)}
}

// Add registers or replaces a policy by name.
func (ps *PolicySet) Add(p Policy) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	stored := p
	ps.policies[p.Name] = &stored
}

// Remove deletes a policy by name.
func (ps *PolicySet) Remove(name string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.policies, name)
}

// Reset clears every policy's fired/hits bookkeeping, used by "rule:reset".
func (ps *PolicySet) Reset() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, p := range ps.policies {
		p.hits = 0
		p.fired = false
	}
}

// FiredSnapshot returns policy-name → fired for every registered policy;
// Engine.Snapshot carries it. It is not written into the Chronicle
// document (nothing sets state.rules.fired), so it is not replicated to
// peers.
func (ps *PolicySet) FiredSnapshot() map[string]bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]bool, len(ps.policies))
	for name, p := range ps.policies {
		out[name] = p.fired
	}
	return out
}

// ApplyFiredSnapshot marks as fired every local policy whose name maps to
// true in fired; false entries and unknown names are ignored, and no fired
// flag is ever cleared. Engine.Restore calls it; a Chronicle merge does
// not.
func (ps *PolicySet) ApplyFiredSnapshot(fired map[string]bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for name, isFired := range fired {
		if p, ok := ps.policies[name]; ok && isFired {
			p.fired = true
		}
	}
}

// PolicyErrorEvent is emitted on "policy:error" when a condition or effect
// panics or a condition returns abnormally; dispatch is never aborted by
// it.
type PolicyErrorEvent struct {
	Policy string
	Err    error
}

// Evaluate runs every enabled policy in descending priority order against
// lastAction, invoking Effect for each whose Condition is true. Once
// policies are skipped after they have fired. Exceptions from Condition or
// Effect are recovered and reported via the reportErr callback (wired to
// "policy:error" by the Engine) rather than propagated.
func (ps *PolicySet) Evaluate(ctx Context, lastAction *Action, reportErr func(PolicyErrorEvent)) {
	ps.mu.Lock()
	ordered := make([]*Policy, 0, len(ps.policies))
	for _, p := range ps.policies {
		ordered = append(ordered, p)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	ps.mu.Unlock()

	for _, p := range ordered {
		if !p.Enabled {
			continue
		}
		if p.Once && p.fired {
			continue
		}

		fires, err := safeCondition(p, ctx, lastAction)
		if err != nil {
			reportErr(PolicyErrorEvent{Policy: p.Name, Err: err})
			continue
		}
		if !fires {
			continue
		}

		if err := safeEffect(p, ctx); err != nil {
			reportErr(PolicyErrorEvent{Policy: p.Name, Err: err})
			continue
		}

		ps.mu.Lock()
		p.hits++
		if p.Once {
			p.fired = true
		}
		ps.mu.Unlock()
	}
}

func safeCondition(p *Policy, ctx Context, lastAction *Action) (fires bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy %q: condition panic: %v", p.Name, r)
		}
	}()
	if p.Condition == nil {
		return false, nil
	}
	return p.Condition(ctx, lastAction), nil
}

func safeEffect(p *Policy, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy %q: effect panic: %v", p.Name, r)
		}
	}()
	if p.Effect == nil {
		return nil
	}
	p.Effect(ctx)
	return nil
}
