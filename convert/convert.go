// Package convert rebuilds a training-mode pipeline as its streaming
// twin and drives streaming pipelines step by step, threading external
// state between operators.
package convert

import (
	"fmt"

	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

// ToStreaming re-instantiates every Stream and Delay in the pipeline
// with the requested inference mode, sharing cells (and therefore
// weights) with the source and carrying over recorded state shapes.
// Plain ops are kept as-is; they have no state to convert.
//
// Flatten wrappers record their window during a training-mode build,
// so a pipeline holding one must either have run forward at least once
// or have been constructed with an explicit state shape.
func ToStreaming(p *model.Pipeline, mode layers.Mode, batchSize int) (*model.Pipeline, error) {
	if mode == layers.Training {
		return nil, fmt.Errorf("conversion target must be an inference mode, not %s", mode)
	}
	if batchSize < 1 {
		batchSize = 1
	}

	ops, err := convertOps(p.Ops, mode, batchSize)
	if err != nil {
		return nil, err
	}
	return &model.Pipeline{Name: p.Name, Ops: ops}, nil
}

func convertOps(ops []model.Op, mode layers.Mode, batchSize int) ([]model.Op, error) {
	out := make([]model.Op, 0, len(ops))
	for i, op := range ops {
		switch o := op.(type) {
		case *layers.Stream:
			s, err := o.CloneForMode(mode, batchSize)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			out = append(out, s)
		case *layers.Delay:
			d, err := o.CloneForMode(mode, batchSize)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			out = append(out, d)
		case *model.Residual:
			body, err := convertOps(o.Body, mode, batchSize)
			if err != nil {
				return nil, fmt.Errorf("op %d body: %w", i, err)
			}
			skip, err := convertOps(o.Skip, mode, batchSize)
			if err != nil {
				return nil, fmt.Errorf("op %d skip: %w", i, err)
			}
			out = append(out, &model.Residual{Body: body, Skip: skip})
		default:
			out = append(out, op)
		}
	}
	return out, nil
}
