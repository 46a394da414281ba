// Package agent implements the named-participant entity from the DATA
// MODEL: inventory, turn lifecycle, and an optional AI delegate hook,
// projected to and from a Chronicle subtree keyed by agent id.
package agent

import (
	"errors"
	"fmt"

	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/token"
)

// ErrInsufficientResources is returned by Transfer/Trade/Steal when the
// source agent does not hold what the caller asked to move.
var ErrInsufficientResources = errors.New("agent: insufficient resources")

// ErrAgentNotFound is returned when an operation references an agent id
// that is not registered in the Chronicle document.
var ErrAgentNotFound = errors.New("agent: not found")

// BeginTurnEvent is emitted on "agent:beginTurn".
type BeginTurnEvent struct {
	AgentID string
	Turn    int
}

// EndTurnEvent is emitted on "agent:endTurn".
type EndTurnEvent struct {
	AgentID string
	Turn    int
}

// ErrorEvent is emitted on "agent:error" when a think() delegate panics or
// returns an error; the turn is not advanced.
type ErrorEvent struct {
	AgentID string
	Err     error
}

type record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Inventory []token.Token `json:"inventory"`
	Discard   []token.Token `json:"discard"`
	Turns     int           `json:"turns"`
	Active    bool          `json:"active"`
	Meta      token.Meta    `json:"meta,omitempty"`
}

// Agent is a handle onto one entry of the Chronicle "agents" subtree.
type Agent struct {
	chron *chronicle.Chronicle
	key   string
	id    string
}

// Create registers a new agent under chron's agents key and returns a
// handle to it.
func Create(chron *chronicle.Chronicle, agentsKey, id, name string) (*Agent, error) {
	a := &Agent{chron: chron, key: agentsKey, id: id}
	err := chron.Change("agent:create", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, agentsKey)
		agents[id] = record{ID: id, Name: name, Active: true}
		d.Set(agentsKey, agentsToAny(agents))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Open attaches an Agent handle to an existing entry.
func Open(chron *chronicle.Chronicle, agentsKey, id string) *Agent {
	return &Agent{chron: chron, key: agentsKey, id: id}
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

func (a *Agent) read() (record, bool) {
	agents := agentsFromAny(a.chron.View()[a.key])
	r, ok := agents[a.id]
	return r, ok
}

// Name returns the agent's display name.
func (a *Agent) Name() string {
	r, _ := a.read()
	return r.Name
}

// Inventory returns a deep copy of the agent's held tokens.
func (a *Agent) Inventory() []token.Token {
	r, _ := a.read()
	return token.CloneSlice(r.Inventory)
}

// Discard returns a deep copy of the agent's discard pile.
func (a *Agent) Discard() []token.Token {
	r, _ := a.read()
	return token.CloneSlice(r.Discard)
}

// Turns returns the turn counter: the number of times BeginTurn has run
// (a turn in progress is already counted).
func (a *Agent) Turns() int {
	r, _ := a.read()
	return r.Turns
}

// Active reports whether the agent is currently active.
func (a *Agent) Active() bool {
	r, _ := a.read()
	return r.Active
}

// Draw appends tokens to the agent's inventory (e.g. after drawing from a
// Stack/Source the caller already removed them from).
func (a *Agent) Draw(tokens []token.Token) error {
	return a.chron.Change("agent:draw", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, a.key)
		r, ok := agents[a.id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, a.id)
		}
		r.Inventory = append(r.Inventory, token.CloneSlice(tokens)...)
		agents[a.id] = r
		d.Set(a.key, agentsToAny(agents))
		return nil
	})
}

// DiscardFromHand moves every inventory token matching predicate (or, if
// predicate is nil, every token) to the discard pile, returning what was
// discarded.
func (a *Agent) DiscardFromHand(predicate func(token.Token) bool) ([]token.Token, error) {
	var removed []token.Token
	err := a.chron.Change("agent:discard", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, a.key)
		r, ok := agents[a.id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, a.id)
		}

		var keep []token.Token
		for _, tok := range r.Inventory {
			if predicate == nil || predicate(tok) {
				removed = append(removed, tok.Clone())
			} else {
				keep = append(keep, tok)
			}
		}
		r.Inventory = keep
		r.Discard = append(r.Discard, token.CloneSlice(removed)...)
		agents[a.id] = r
		d.Set(a.key, agentsToAny(agents))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// PlayCard removes a token matching cardID from the agent's inventory.
// The caller is responsible for placing it into a Space zone; PlayCard
// only performs the inventory-side half of the move.
func (a *Agent) PlayCard(cardID string) (token.Token, error) {
	var played token.Token
	err := a.chron.Change("agent:play", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, a.key)
		r, ok := agents[a.id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, a.id)
		}

		idx := token.IndexOf(r.Inventory, cardID)
		if idx < 0 {
			return fmt.Errorf("%w: agent %s does not hold %s", ErrInsufficientResources, a.id, cardID)
		}
		played = r.Inventory[idx].Clone()
		r.Inventory = append(append([]token.Token{}, r.Inventory[:idx]...), r.Inventory[idx+1:]...)
		agents[a.id] = r
		d.Set(a.key, agentsToAny(agents))
		return nil
	})
	if err != nil {
		return token.Token{}, err
	}
	return played, nil
}

// TransferResult is the result of Transfer/Steal.
type TransferResult struct {
	Success bool
	Stolen  *token.Token
}

// Transfer moves the named token from agent `from` to agent `to`. Both
// agents must live under the same agentsKey.
func Transfer(chron *chronicle.Chronicle, agentsKey, from, to, tokenID string) (TransferResult, error) {
	var result TransferResult
	err := chron.Change("agent:transfer", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, agentsKey)
		src, ok := agents[from]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, from)
		}
		dst, ok := agents[to]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, to)
		}

		idx := token.IndexOf(src.Inventory, tokenID)
		if idx < 0 {
			return fmt.Errorf("%w: %s does not hold %s", ErrInsufficientResources, from, tokenID)
		}
		moved := src.Inventory[idx]
		src.Inventory = append(append([]token.Token{}, src.Inventory[:idx]...), src.Inventory[idx+1:]...)
		dst.Inventory = append(dst.Inventory, moved.Clone())

		agents[from] = src
		agents[to] = dst
		d.Set(agentsKey, agentsToAny(agents))
		result.Success = true
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// TradeOffer names the tokens one side of a Trade is willing to give up.
type TradeOffer struct {
	Agent  string
	Offer  []string
}

// Trade atomically exchanges TokenIDs between two agents: agent1's Offer
// moves to agent2 and vice versa. Fails with ErrInsufficientResources
// (leaving both agents untouched) if either side cannot produce its
// offered tokens.
func Trade(chron *chronicle.Chronicle, agentsKey string, offer1, offer2 TradeOffer) (TransferResult, error) {
	var result TransferResult
	err := chron.Change("agent:trade", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, agentsKey)
		a1, ok := agents[offer1.Agent]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, offer1.Agent)
		}
		a2, ok := agents[offer2.Agent]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, offer2.Agent)
		}

		give1, err := extract(&a1.Inventory, offer1.Offer)
		if err != nil {
			return err
		}
		give2, err := extract(&a2.Inventory, offer2.Offer)
		if err != nil {
			return err
		}

		a1.Inventory = append(a1.Inventory, give2...)
		a2.Inventory = append(a2.Inventory, give1...)

		agents[offer1.Agent] = a1
		agents[offer2.Agent] = a2
		d.Set(agentsKey, agentsToAny(agents))
		result.Success = true
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// Steal moves a token from `from` to `to` without the source's consent. If
// validate is non-nil it is consulted first; a false result fails the
// steal with ErrInsufficientResources and mutates nothing.
func Steal(chron *chronicle.Chronicle, agentsKey, from, to, tokenID string, validate func() bool) (TransferResult, error) {
	if validate != nil && !validate() {
		return TransferResult{}, fmt.Errorf("%w: steal rejected by validator", ErrInsufficientResources)
	}
	result, err := Transfer(chron, agentsKey, from, to, tokenID)
	if err != nil {
		return TransferResult{}, err
	}
	stolen := token.Token{ID: tokenID}
	result.Stolen = &stolen
	return result, nil
}

func extract(inventory *[]token.Token, ids []string) ([]token.Token, error) {
	out := make([]token.Token, 0, len(ids))
	remaining := *inventory
	for _, id := range ids {
		idx := token.IndexOf(remaining, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: missing %s", ErrInsufficientResources, id)
		}
		out = append(out, remaining[idx].Clone())
		remaining = append(append([]token.Token{}, remaining[:idx]...), remaining[idx+1:]...)
	}
	*inventory = remaining
	return out, nil
}

// BeginTurn increments the agent's turn counter and emits
// "agent:beginTurn".
func (a *Agent) BeginTurn() error {
	var turn int
	err := a.chron.Change("agent:beginTurn", func(d *chronicle.Draft) error {
		agents := agentsFromDraft(d, a.key)
		r, ok := agents[a.id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, a.id)
		}
		r.Turns++
		turn = r.Turns
		agents[a.id] = r
		d.Set(a.key, agentsToAny(agents))
		return nil
	})
	if err != nil {
		return err
	}
	a.chron.Events().Emit("agent:beginTurn", BeginTurnEvent{AgentID: a.id, Turn: turn})
	return nil
}

// EndTurn emits "agent:endTurn". It does not itself advance the counter;
// BeginTurn does that for the next turn.
func (a *Agent) EndTurn() error {
	r, ok := a.read()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, a.id)
	}
	a.chron.Events().Emit("agent:endTurn", EndTurnEvent{AgentID: a.id, Turn: r.Turns})
	return nil
}

// Delegate is the think() AI hook contract: given a handle the caller
// supplies (typically *engine.Engine, kept opaque here to avoid an import
// cycle), it returns an action to dispatch, a script, or nothing.
type Delegate interface {
	Think(engineHandle any) (action any, script any, err error)
}

// RunDelegate invokes delegate.Think, reporting failures on "agent:error"
// instead of propagating them: a misbehaving delegate must not advance the
// turn or abort the caller's loop.
func (a *Agent) RunDelegate(delegate Delegate, engineHandle any) (action any, script any) {
	defer func() {
		if r := recover(); r != nil {
			a.chron.Events().Emit("agent:error", ErrorEvent{AgentID: a.id, Err: fmt.Errorf("agent: delegate panic: %v", r)})
		}
	}()

	act, scr, err := delegate.Think(engineHandle)
	if err != nil {
		a.chron.Events().Emit("agent:error", ErrorEvent{AgentID: a.id, Err: err})
		return nil, nil
	}
	return act, scr
}

func agentsFromDraft(d *chronicle.Draft, key string) map[string]record {
	v, ok := d.Get(key)
	if !ok {
		return map[string]record{}
	}
	return agentsFromAny(v)
}

func agentsToAny(agents map[string]record) map[string]any {
	out := make(map[string]any, len(agents))
	for id, r := range agents {
		entry := map[string]any{
			"id":        r.ID,
			"name":      r.Name,
			"inventory": token.ToAny(r.Inventory),
			"discard":   token.ToAny(r.Discard),
			"turns":     float64(r.Turns),
			"active":    r.Active,
		}
		if r.Meta != nil {
			entry["meta"] = map[string]any(r.Meta.Clone())
		}
		out[id] = entry
	}
	return out
}

func agentsFromAny(v any) map[string]record {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]record{}
	}
	out := make(map[string]record, len(m))
	for id, raw := range m {
		rm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var r record
		r.ID = id
		if name, ok := rm["name"].(string); ok {
			r.Name = name
		}
		r.Inventory = token.FromAny(rm["inventory"])
		r.Discard = token.FromAny(rm["discard"])
		if turns, ok := rm["turns"].(float64); ok {
			r.Turns = int(turns)
		}
		if active, ok := rm["active"].(bool); ok {
			r.Active = active
		}
		if meta, ok := rm["meta"].(map[string]any); ok {
			r.Meta = token.Meta(meta).Clone()
		}
		out[id] = r
	}
	return out
}

