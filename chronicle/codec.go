package chronicle

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sort"
)

// envelopeMagic tags a Chronicle blob so Load can reject anything else
// (a truncated file, a JSON document from some other system) immediately
// instead of failing deep inside json.Unmarshal.
var envelopeMagic = [4]byte{'C', 'H', 'R', '1'}

const envelopeVersion uint8 = 1

// Save serializes the current document into a versioned binary envelope:
// 4-byte magic, 1-byte version, 4-byte big-endian payload length, then the
// state encoded as JSON with map keys sorted -- encoding/gob was ruled out because the
// document's values are untyped map[string]any trees and gob requires
// concrete registered types for every interface{} it crosses. Sorting keys
// before encoding keeps Save deterministic: two replicas holding equal
// states produce byte-identical blobs.
func (c *Chronicle) Save() ([]byte, error) {
	return encodeState(c.State())
}

// Load replaces the document with the contents of an envelope previously
// produced by Save. It returns ErrChronicleCorrupt if b is not a
// recognized Chronicle envelope.
func (c *Chronicle) Load(b []byte) error {
	state, err := decodeState(b)
	if err != nil {
		return err
	}
	c.Update(state, "local")
	return nil
}

// SaveToBase64 is a convenience wrapper around Save for embedders that want
// to store or transmit the envelope as text (config files, JSON APIs).
func (c *Chronicle) SaveToBase64() (string, error) {
	b, err := c.Save()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// LoadFromBase64 is the inverse of SaveToBase64.
func (c *Chronicle) LoadFromBase64(s string) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ErrChronicleCorrupt
	}
	return c.Load(b)
}

// EncodeState is the free-standing form of Save: it serializes any State
// value (not necessarily a Chronicle's current one) into the same
// versioned envelope, so a ConsensusCore can encode a merged or received
// State for retransmission without owning a Chronicle for it.
func EncodeState(s State) ([]byte, error) {
	return encodeState(s)
}

// DecodeState is the free-standing form of Load.
func DecodeState(b []byte) (State, error) {
	return decodeState(b)
}

func encodeState(s State) ([]byte, error) {
	payload, err := marshalSorted(s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(envelopeMagic[:])
	buf.WriteByte(envelopeVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(payload))) //nolint:errcheck // buf.Write never errors
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeState(b []byte) (State, error) {
	const headerLen = 4 + 1 + 4
	if len(b) < headerLen {
		return State{}, ErrChronicleCorrupt
	}
	if !bytes.Equal(b[:4], envelopeMagic[:]) {
		return State{}, ErrChronicleCorrupt
	}
	if b[4] != envelopeVersion {
		return State{}, ErrChronicleCorrupt
	}

	size := binary.BigEndian.Uint32(b[5:9])
	payload := b[9:]
	if uint32(len(payload)) != size {
		return State{}, ErrChronicleCorrupt
	}

	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return State{}, ErrChronicleCorrupt
	}
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	if s.Clocks == nil {
		s.Clocks = make(map[string]HLC)
	}
	return s, nil
}

// marshalSorted encodes a State with its top-level Data keys in sorted
// order, so that two equal states always encode to the same bytes
// regardless of Go's randomized map iteration order.
func marshalSorted(s State) ([]byte, error) {
	dataKeys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		dataKeys = append(dataKeys, k)
	}
	sort.Strings(dataKeys)

	clockKeys := make([]string, 0, len(s.Clocks))
	for k := range s.Clocks {
		clockKeys = append(clockKeys, k)
	}
	sort.Strings(clockKeys)

	var buf bytes.Buffer
	buf.WriteString(`{"data":{`)
	for i, k := range dataKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(s.Data[k])
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteString(`},"clocks":{`)
	for i, k := range clockKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(s.Clocks[k])
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}
