package convert

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

// Runner drives a streaming pipeline one step per call. For
// external-state operators it owns the state threading: every op's
// output state becomes its input state on the next step, starting
// from the zero seed. Internal-state and non-streaming pipelines pass
// straight through.
//
// A Runner serves exactly one stream of steps; it is not safe for
// concurrent use.
type Runner struct {
	pipeline *model.Pipeline
	states   map[model.Op]*tensor.Dense
}

func NewRunner(p *model.Pipeline) *Runner {
	return &Runner{
		pipeline: p,
		states:   make(map[model.Op]*tensor.Dense),
	}
}

func (r *Runner) Pipeline() *model.Pipeline { return r.pipeline }

// Reset drops all threaded state, returning every operator to its
// zero seed buffer.
func (r *Runner) Reset() {
	r.states = make(map[model.Op]*tensor.Dense)
}

// Step feeds one time step through the pipeline.
func (r *Runner) Step(x *tensor.Dense) (*tensor.Dense, error) {
	return r.run(r.pipeline.Ops, x)
}

func (r *Runner) run(ops []model.Op, x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for i, op := range ops {
		switch o := op.(type) {
		case *model.Residual:
			var body, skip *tensor.Dense
			if body, err = r.run(o.Body, x); err != nil {
				return nil, fmt.Errorf("op %d body: %w", i, err)
			}
			if skip, err = r.run(o.Skip, x); err != nil {
				return nil, fmt.Errorf("op %d skip: %w", i, err)
			}
			if x, err = model.Add(body, skip); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		case model.Stateful:
			if o.Mode() == layers.StreamExternalStateInference {
				var next *tensor.Dense
				if x, next, err = o.ForwardWithState(x, r.states[op]); err != nil {
					return nil, fmt.Errorf("op %d: %w", i, err)
				}
				r.states[op] = next
			} else {
				if x, err = o.Forward(x); err != nil {
					return nil, fmt.Errorf("op %d: %w", i, err)
				}
			}
		default:
			if x, err = op.Forward(x); err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	return x, nil
}

// RunSequence feeds a whole [batch, time, feat...] sequence through
// the runner one step at a time and concatenates the step outputs
// along the time axis. Outputs without a time axis (a flattened or
// dense head) are treated as one step each.
func RunSequence(r *Runner, seq *tensor.Dense) (*tensor.Dense, error) {
	total := seq.Shape()[1]

	var out *tensor.Dense
	for ti := 0; ti < total; ti++ {
		step, err := layers.SliceTime(seq, ti, ti+1)
		if err != nil {
			return nil, err
		}
		y, err := r.Step(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", ti, err)
		}

		ys := y.Shape()
		if len(ys) == 2 {
			// reintroduce a time axis so steps can be concatenated
			data := make([]float32, len(y.Data().([]float32)))
			copy(data, y.Data().([]float32))
			y = tensor.New(tensor.WithShape(ys[0], 1, ys[1]), tensor.WithBacking(data))
		}

		if out == nil {
			out = y
		} else if out, err = layers.ConcatTime(out, y); err != nil {
			return nil, err
		}
	}
	return out, nil
}
