package chronicle

import "errors"

// ErrChronicleCorrupt is returned by Load/LoadFromBase64/DecodeState when
// the supplied bytes are not a well-formed Chronicle envelope.
var ErrChronicleCorrupt = errors.New("chronicle: corrupt or malformed state")
