package model

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Pipeline is a named sequential graph of ops.
type Pipeline struct {
	Name string
	Ops  []Op
}

func NewPipeline(name string, ops ...Op) *Pipeline {
	return &Pipeline{Name: name, Ops: ops}
}

func (p *Pipeline) Add(ops ...Op) *Pipeline {
	p.Ops = append(p.Ops, ops...)
	return p
}

// Forward runs the whole pipeline on a full sequence (training and
// non-streaming modes) or on a single step (internal-state streaming).
// External-state pipelines are driven by convert.Runner, which owns
// the state threading.
func (p *Pipeline) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for i, op := range p.Ops {
		if x, err = op.Forward(x); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	return x, nil
}
