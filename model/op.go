package model

import (
	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/layers"
)

// Op is one node in a pipeline. Tensors flow through as
// [batch, time, feat...] except after a Flatten or Dense, where the
// time axis has been collapsed.
type Op interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
}

// Stateful is the surface the conversion tooling needs from operators
// that carry a buffer across streaming calls. layers.Stream and
// layers.Delay implement it.
type Stateful interface {
	Op

	Mode() layers.Mode
	Build(inputShape []int) error

	ForwardWithState(x, state *tensor.Dense) (*tensor.Dense, *tensor.Dense, error)
	InputState() (*tensor.Dense, error)
	OutputState() (*tensor.Dense, error)
}

var (
	_ Stateful = (*layers.Stream)(nil)
	_ Stateful = (*layers.Delay)(nil)
)
