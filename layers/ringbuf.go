package layers

import (
	"errors"
	"fmt"

	"github.com/pdevine/tensor"
)

var (
	// ErrUnsupportedCell is returned when a cell kind the wrapper does
	// not recognize is used without an explicit ring buffer size.
	ErrUnsupportedCell = errors.New("cell kind requires an explicit ring buffer size")

	// ErrStreamingStride is returned when a cell subsamples the time
	// axis while the wrapper is in a streaming mode.
	ErrStreamingStride = errors.New("stride in time greater than 1 is not supported in streaming mode")

	// ErrPoolStride is returned when a pooling cell's time stride does
	// not equal its pool size in a streaming mode.
	ErrPoolStride = errors.New("pool stride in time must equal pool size in streaming mode")

	// ErrWrongMode is returned when a call is not valid for the mode
	// the layer was constructed with.
	ErrWrongMode = errors.New("operation not valid in this mode")

	// ErrOneStep is returned when a streaming call receives an input
	// with more than one time step.
	ErrOneStep = errors.New("streaming input must contain exactly one time step")

	// ErrStateShape is returned when a state tensor does not match the
	// shape derived at build time.
	ErrStateShape = errors.New("state shape mismatch")

	// ErrNotBuilt is returned when state is requested from a layer
	// whose buffer shape has not been derived yet.
	ErrNotBuilt = errors.New("layer has not been built")
)

// Zeros returns a zero-filled float32 tensor.
func Zeros(shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, n)))
}

// featureSize is the number of scalars in one time step of one batch
// element, i.e. the product of the trailing feature dims.
func featureSize(shape tensor.Shape) int {
	n := 1
	for _, d := range shape[2:] {
		n *= d
	}
	return n
}

func sameTrailing(a, b tensor.Shape) bool {
	if len(a) != len(b) || a[0] != b[0] {
		return false
	}
	for i := 2; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ConcatTime concatenates two tensors of shape [batch, time, feat...]
// along the time axis. Batch and feature dims must match.
func ConcatTime(a, b *tensor.Dense) (*tensor.Dense, error) {
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || !sameTrailing(as, bs) {
		return nil, fmt.Errorf("cannot concatenate shapes %v and %v over time", as, bs)
	}

	batch, at, bt := as[0], as[1], bs[1]
	feat := featureSize(as)

	ad := a.Data().([]float32)
	bd := b.Data().([]float32)
	out := make([]float32, batch*(at+bt)*feat)
	for n := 0; n < batch; n++ {
		dst := out[n*(at+bt)*feat:]
		copy(dst, ad[n*at*feat:(n+1)*at*feat])
		copy(dst[at*feat:(at+bt)*feat], bd[n*bt*feat:(n+1)*bt*feat])
	}

	shape := append([]int{batch, at + bt}, as[2:]...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// SliceTime copies the [start, end) range of time steps out of a
// [batch, time, feat...] tensor.
func SliceTime(x *tensor.Dense, start, end int) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("shape %v has no time axis", xs)
	}
	if start < 0 || end > xs[1] || start > end {
		return nil, fmt.Errorf("time slice [%d:%d) out of range for %d steps", start, end, xs[1])
	}

	batch, t := xs[0], xs[1]
	feat := featureSize(xs)
	keep := end - start

	xd := x.Data().([]float32)
	out := make([]float32, batch*keep*feat)
	for n := 0; n < batch; n++ {
		base := n*t*feat + start*feat
		copy(out[n*keep*feat:(n+1)*keep*feat], xd[base:base+keep*feat])
	}

	shape := append([]int{batch, keep}, xs[2:]...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// shiftAppend drops the oldest steps from state and appends the new
// input, keeping the state length fixed. Both the ring buffer update
// and the delay line update reduce to this plus SliceTime.
func shiftAppend(state, step *tensor.Dense) (*tensor.Dense, error) {
	m, err := ConcatTime(state, step)
	if err != nil {
		return nil, err
	}
	total := m.Shape()[1]
	window := state.Shape()[1]
	return SliceTime(m, total-window, total)
}

// PadTime zero-pads the time axis with left steps before and right
// steps after the input.
func PadTime(x *tensor.Dense, left, right int) (*tensor.Dense, error) {
	out := x
	xs := x.Shape()
	var err error
	if left > 0 {
		pad := Zeros(append([]int{xs[0], left}, xs[2:]...)...)
		if out, err = ConcatTime(pad, out); err != nil {
			return nil, err
		}
	}
	if right > 0 {
		pad := Zeros(append([]int{xs[0], right}, xs[2:]...)...)
		if out, err = ConcatTime(out, pad); err != nil {
			return nil, err
		}
	}
	return out, nil
}
