package model

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Residual runs the body and skip chains on the same input and adds
// their outputs elementwise. With causal padding both branches stay
// time-aligned on their own; a non-causal body needs a layers.Delay on
// the skip chain to line the branches up in streaming mode.
type Residual struct {
	Body []Op
	Skip []Op
}

func (r *Residual) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	body, err := forwardChain(r.Body, x)
	if err != nil {
		return nil, fmt.Errorf("residual body: %w", err)
	}
	skip, err := forwardChain(r.Skip, x)
	if err != nil {
		return nil, fmt.Errorf("residual skip: %w", err)
	}
	return Add(body, skip)
}

func forwardChain(ops []Op, x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for i, op := range ops {
		if x, err = op.Forward(x); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	return x, nil
}

// Add sums two equally shaped tensors elementwise.
func Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	if !a.Shape().Eq(b.Shape()) {
		return nil, fmt.Errorf("cannot add shapes %v and %v", a.Shape(), b.Shape())
	}

	ad := a.Data().([]float32)
	bd := b.Data().([]float32)
	out := make([]float32, len(ad))
	for i := range ad {
		out[i] = ad[i] + bd[i]
	}
	return tensor.New(tensor.WithShape(a.Shape()...), tensor.WithBacking(out)), nil
}
