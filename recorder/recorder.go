// Package recorder implements the persisted-state layout's recorder log:
// a JSON array of {type, payload, timestamp} tuples, one per successfully
// applied action, that can be replayed against a fresh Engine (seeded the
// same way) to reproduce an equal Chronicle. A Chronicle binary blob plus
// its recorder log is what the store backends persist.
package recorder

import (
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/engine"
)

// Entry is one recorded action: enough to replay it, stripped of the
// dispatch id (Replay assigns fresh ids, since a replica replaying a log
// is building its own history, not reproducing the sender's).
type Entry struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// Recorder appends an Entry for every action an Engine successfully
// dispatches, by subscribing to the Chronicle's "engine:action" event.
// Actions that failed (handler returned an error) are not recorded --
// replaying a log should never re-trigger a failure path.
type Recorder struct {
	log []Entry
}

// New creates a Recorder and immediately subscribes it to chron's event
// bus. The returned Recorder is not safe for concurrent use from outside
// the event bus's own dispatch goroutine; callers that need the log from
// another goroutine should call Log after the Engine producing events has
// quiesced, or guard access themselves.
func New(chron *chronicle.Chronicle) *Recorder {
	r := &Recorder{}
	chron.Events().On("engine:action", func(payload any) {
		ev, ok := payload.(engine.ActionResult)
		if !ok || ev.Err != nil {
			return
		}
		r.log = append(r.log, Entry{
			Type:      ev.Action.Type,
			Payload:   ev.Action.Payload,
			Timestamp: ev.Action.Timestamp,
		})
	})
	return r
}

// Log returns the recorded entries in dispatch order.
func (r *Recorder) Log() []Entry {
	out := make([]Entry, len(r.log))
	copy(out, r.log)
	return out
}

// MarshalJSON encodes the log as a JSON array, the exact shape the store
// backends persist alongside a Chronicle blob.
func (r *Recorder) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.log)
}

// LoadLog decodes a JSON array of entries previously produced by
// Recorder.MarshalJSON (or an equivalent store row).
func LoadLog(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var log []Entry
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("recorder: decode log: %w", err)
	}
	return log, nil
}

// Replay re-dispatches every entry in log against eng, in order. It
// returns the first dispatch error, if any, wrapped with the failing
// entry's position and type; the caller decides whether a partial replay
// is acceptable.
func Replay(eng *engine.Engine, log []Entry) error {
	for i, e := range log {
		a := action.Action{Type: e.Type, Payload: e.Payload, Timestamp: e.Timestamp}
		if _, err := eng.Dispatch(a); err != nil {
			return fmt.Errorf("recorder: replay entry %d (%s): %w", i, e.Type, err)
		}
	}
	return nil
}
