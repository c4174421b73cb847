package layers

import (
	"fmt"
	"math"

	"github.com/pdevine/tensor"
)

const (
	seluAlpha = 1.6732632423543772
	seluScale = 1.0507009873554805
)

// Activate applies a named activation to the tensor in place.
// An empty name or "linear" is a no-op.
func Activate(name string, t *tensor.Dense) error {
	if name == "" || name == "linear" {
		return nil
	}

	var fn func(float32) float32
	switch name {
	case "relu":
		fn = func(v float32) float32 {
			if v < 0 {
				return 0
			}
			return v
		}
	case "elu":
		fn = func(v float32) float32 {
			if v < 0 {
				return float32(math.Expm1(float64(v)))
			}
			return v
		}
	case "selu":
		fn = func(v float32) float32 {
			if v < 0 {
				return float32(seluScale * seluAlpha * math.Expm1(float64(v)))
			}
			return float32(seluScale * float64(v))
		}
	case "tanh":
		fn = func(v float32) float32 {
			return float32(math.Tanh(float64(v)))
		}
	case "sigmoid":
		fn = func(v float32) float32 {
			return float32(1 / (1 + math.Exp(-float64(v))))
		}
	default:
		return fmt.Errorf("unknown activation %q", name)
	}

	data := t.Data().([]float32)
	for i, v := range data {
		data[i] = fn(v)
	}
	return nil
}
