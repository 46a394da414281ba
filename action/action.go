// Package action defines the Action value type and the ActionRegistry that
// maps an action type string to a Handler, grounded on the node-factory
// registry pattern (type name → factory) the engine builds on, simplified
// here to a flat dispatch table since actions have no graph topology.
package action

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrUnknownAction is returned by Lookup/dispatch when no handler is
// registered for an action's type. Policies are not consulted as a
// fallback: an action without a handler is never applied.
var ErrUnknownAction = errors.New("action: unknown action type")

// ErrInvalidPayload is returned by a Handler when its input fails
// validation; the action is not applied.
var ErrInvalidPayload = errors.New("action: invalid payload")

// Action is the immutable record dispatched through the Engine: a
// namespaced type (e.g. "stack:draw"), a JSON-shaped payload, a unique id,
// and a timestamp. Equality is by id.
type Action struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
}

// Equal reports whether two actions share the same identity.
func (a Action) Equal(other Action) bool {
	return a.ID == other.ID
}

// New builds an Action, assigning a ulid-based id and the current time as
// its timestamp.
func New(actionType string, payload map[string]any) Action {
	return Action{
		Type:      actionType,
		Payload:   payload,
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Normalize fills in a's ID and Timestamp if they are unset, matching step
// 1 of Engine.dispatch ("assign id/timestamp if missing").
func Normalize(a Action) Action {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().UnixMilli()
	}
	if a.Payload == nil {
		a.Payload = map[string]any{}
	}
	return a
}

// Handler is invoked by the Engine for a matched action; it may read and
// mutate any domain object it was constructed with, and should route every
// side effect through a Chronicle Change so the mutation replicates. Its
// return value becomes the action's result.
type Handler func(ctx Context, payload map[string]any) (result any, err error)

// Context is the borrowed, per-dispatch view a Handler receives. It is
// deliberately an opaque interface here (rather than *engine.Engine) to
// avoid an import cycle between action and engine; engine.Engine
// implements it.
type Context interface {
	// Emit publishes a domain event on the Chronicle's event bus.
	Emit(topic string, payload any)
}

// Registry is a mapping from action type to Handler. Composable action
// packs register their handlers into a Registry via Register or
// RegisterPack, mirroring the teacher's RegisterNodeType global registry
// but scoped to an instance so multiple engines never share handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs handler under actionType, overwriting any previous
// registration -- the same pattern embedders use to override a built-in
// action pack's handler with their own.
func (r *Registry) Register(actionType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// Pack is a named bundle of handlers (e.g. the built-in "stack:*" pack)
// that can be installed into a Registry in one call.
type Pack map[string]Handler

// RegisterPack installs every handler in pack.
func (r *Registry) RegisterPack(pack Pack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for actionType, handler := range pack {
		r.handlers[actionType] = handler
	}
}

// Lookup returns the handler registered for actionType, or
// (nil, ErrUnknownAction).
func (r *Registry) Lookup(actionType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	if !ok {
		return nil, ErrUnknownAction
	}
	return h, nil
}

// RegisteredTypes returns every action type with a registered handler.
func (r *Registry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
