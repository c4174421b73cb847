package layers

import (
	"fmt"
	"slices"

	"github.com/pdevine/tensor"
)

// Delay shifts a signal in time by a fixed number of steps. It only
// has an effect in the streaming modes, where it aligns non-causal
// branches (a residual skip, for example) with causally streamed
// branches that lag behind. On a full sequence there is nothing to
// align, so the non-streaming modes pass through.
//
// The state is a plain shift register of exactly delay steps: each
// call appends the new input, emits the oldest steps and retains the
// newest delay steps. A delay of 0 passes through in every mode and
// allocates no buffer; the per-mode call contract still applies, so
// Forward and ForwardWithState stay interchangeable with the ring
// buffer wrapper's.
type Delay struct {
	delay     int
	mode      Mode
	batchSize int

	stateShape []int
	built      bool

	states      *tensor.Dense
	inputState  *tensor.Dense
	outputState *tensor.Dense
}

func NewDelay(delay int, mode Mode, batchSize int) (*Delay, error) {
	if delay < 0 {
		return nil, fmt.Errorf("delay %d must not be negative", delay)
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Delay{delay: delay, mode: mode, batchSize: batchSize}, nil
}

func (d *Delay) Steps() int     { return d.delay }
func (d *Delay) Mode() Mode     { return d.mode }
func (d *Delay) BatchSize() int { return d.batchSize }

func (d *Delay) StateShape() []int { return slices.Clone(d.stateShape) }

// Build allocates the shift register from the input shape. A no-op
// for delay 0 and for the non-streaming modes.
func (d *Delay) Build(inputShape []int) error {
	if d.built || d.delay == 0 {
		return nil
	}
	if len(inputShape) < 2 {
		return fmt.Errorf("input shape %v has no time axis", inputShape)
	}

	if d.stateShape == nil {
		d.stateShape = append([]int{d.batchSize, d.delay}, inputShape[2:]...)
	}

	switch d.mode {
	case StreamInternalStateInference:
		d.states = Zeros(d.stateShape...)
	case StreamExternalStateInference:
		d.inputState = Zeros(d.stateShape...)
	}

	d.built = true
	return nil
}

func (d *Delay) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	switch d.mode {
	case Training, NonStreamInference:
		return x, nil
	case StreamInternalStateInference:
		if d.delay == 0 {
			return x, nil
		}
		if err := d.Build(x.Shape()); err != nil {
			return nil, err
		}
		out, next, err := d.shift(x, d.states)
		if err != nil {
			return nil, err
		}
		d.states = next
		return out, nil
	default:
		return nil, fmt.Errorf("%w: Forward in %s, use ForwardWithState", ErrWrongMode, d.mode)
	}
}

// ForwardWithState runs one external-state step. Unlike the ring
// buffer wrapper, the delay accepts inputs of any length; the output
// always has the same number of steps as the input, lagged by delay.
func (d *Delay) ForwardWithState(x, state *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if d.mode != StreamExternalStateInference {
		return nil, nil, fmt.Errorf("%w: ForwardWithState in %s", ErrWrongMode, d.mode)
	}
	if d.delay == 0 {
		return x, state, nil
	}
	if err := d.Build(x.Shape()); err != nil {
		return nil, nil, err
	}
	if state == nil {
		state = d.inputState
	}
	if !state.Shape().Eq(tensor.Shape(d.stateShape)) {
		return nil, nil, fmt.Errorf("%w: got %v, want %v", ErrStateShape, state.Shape(), d.stateShape)
	}

	out, next, err := d.shift(x, state)
	if err != nil {
		return nil, nil, err
	}
	d.outputState = next
	return out, next, nil
}

func (d *Delay) InputState() (*tensor.Dense, error) {
	if d.mode != StreamExternalStateInference {
		return nil, fmt.Errorf("%w: input state in %s", ErrWrongMode, d.mode)
	}
	if !d.built {
		return nil, ErrNotBuilt
	}
	return d.inputState, nil
}

func (d *Delay) OutputState() (*tensor.Dense, error) {
	if d.mode != StreamExternalStateInference {
		return nil, fmt.Errorf("%w: output state in %s", ErrWrongMode, d.mode)
	}
	if !d.built {
		return nil, ErrNotBuilt
	}
	return d.outputState, nil
}

// CloneForMode constructs a new delay over the same shift amount in
// another mode.
func (d *Delay) CloneForMode(mode Mode, batchSize int) (*Delay, error) {
	nd, err := NewDelay(d.delay, mode, batchSize)
	if err != nil {
		return nil, err
	}
	if d.stateShape != nil {
		shape := slices.Clone(d.stateShape)
		shape[0] = batchSize
		nd.stateShape = shape
	}
	return nd, nil
}

// shift appends x to the register, emits the oldest len(x) steps and
// keeps the newest delay steps.
func (d *Delay) shift(x, state *tensor.Dense) (out, next *tensor.Dense, err error) {
	memory, err := ConcatTime(state, x)
	if err != nil {
		return nil, nil, err
	}

	steps := x.Shape()[1]
	total := memory.Shape()[1]

	if out, err = SliceTime(memory, 0, steps); err != nil {
		return nil, nil, err
	}
	if next, err = SliceTime(memory, total-d.delay, total); err != nil {
		return nil, nil, err
	}
	return out, next, nil
}
