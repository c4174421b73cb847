package layers

import "fmt"

// Padding is the time-axis padding policy applied in the non-streaming
// modes. Streaming modes never pad; causal alignment comes from the
// ring buffer instead.
type Padding string

const (
	// PaddingNone applies no padding. The output is shorter than the
	// input by window-1 steps.
	PaddingNone Padding = "none"

	// PaddingSame pads symmetrically so the output covers the same
	// time extent as the input.
	PaddingSame Padding = "same"

	// PaddingCausal left-pads with window-1 zero steps so the
	// non-streaming output lines up with the streaming output.
	PaddingCausal Padding = "causal"
)

func ParsePadding(s string) (Padding, error) {
	switch Padding(s) {
	case PaddingNone, PaddingSame, PaddingCausal:
		return Padding(s), nil
	case "":
		return PaddingNone, nil
	}
	return "", fmt.Errorf("unknown padding policy %q", s)
}
