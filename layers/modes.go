package layers

import (
	"encoding/json"
	"fmt"
)

// Mode selects the execution context of a layer. It is fixed at
// construction time; changing modes means constructing a new layer
// instance with the weights carried over (see convert.ToStreaming).
type Mode int

const (
	// Training processes whole sequences with no state.
	Training Mode = iota

	// NonStreamInference processes whole sequences with no state,
	// with training-only graph features removed.
	NonStreamInference

	// StreamInternalStateInference processes one step at a time. The
	// layer owns its ring buffer and updates it in place on every call.
	StreamInternalStateInference

	// StreamExternalStateInference processes one step at a time. The
	// ring buffer is passed in and returned explicitly; the layer keeps
	// no state between calls.
	StreamExternalStateInference
)

var modeNames = map[Mode]string{
	Training:                     "training",
	NonStreamInference:           "non_stream_inference",
	StreamInternalStateInference: "stream_internal_state_inference",
	StreamExternalStateInference: "stream_external_state_inference",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Streaming reports whether the mode consumes one step per call.
func (m Mode) Streaming() bool {
	return m == StreamInternalStateInference || m == StreamExternalStateInference
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	s, ok := modeNames[m]
	if !ok {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return json.Marshal(s)
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
