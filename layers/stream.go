package layers

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pdevine/tensor"
)

// Stream wraps a cell and converts it into a streaming operator.
//
// In the non-streaming modes the wrapper is transparent apart from the
// padding policy: the cell sees the whole sequence at once. In the
// streaming modes the wrapper owns a ring buffer holding the last
// window of time steps; each call shifts the buffer by one step and
// hands the full window to the cell. Processing a causally padded
// sequence at once and streaming it step by step produce the same
// outputs at the same time indices.
//
// The ring buffer size is derived from the cell (kernel size stretched
// by dilation, pool size, or the training-time extent for Flatten), or
// supplied explicitly for cell kinds the wrapper does not recognize.
type Stream struct {
	cell      Cell
	mode      Mode
	batchSize int
	pad       Padding

	ringSize     int
	explicitRing bool
	stateShape   []int
	built        bool

	// internal-state mode: owned, mutated in place on every call
	states *tensor.Dense

	// external-state mode: zero seed and the most recent output state,
	// kept only for graph wiring. ForwardWithState itself is pure.
	inputState  *tensor.Dense
	outputState *tensor.Dense
}

type StreamOption func(*Stream)

// WithMode fixes the execution mode. The default is Training.
func WithMode(mode Mode) StreamOption {
	return func(s *Stream) { s.mode = mode }
}

// WithBatchSize sets the inference batch size used for the state
// shape. The default is 1.
func WithBatchSize(n int) StreamOption {
	return func(s *Stream) { s.batchSize = n }
}

// WithPadding sets the time padding policy for the non-streaming
// modes. Streaming modes ignore it.
func WithPadding(p Padding) StreamOption {
	return func(s *Stream) { s.pad = p }
}

// WithRingBufferSize overrides the window derived from the cell. It is
// required for cell kinds the wrapper does not recognize.
func WithRingBufferSize(n int) StreamOption {
	return func(s *Stream) {
		s.ringSize = n
		s.explicitRing = true
	}
}

// WithStateShape supplies the full [batch, window, feat...] state
// shape up front. Required when constructing a streaming instance
// with no training-mode twin to derive the shape from, and for
// Flatten cells in streaming modes.
func WithStateShape(shape []int) StreamOption {
	return func(s *Stream) { s.stateShape = slices.Clone(shape) }
}

// NewStream validates the cell against the mode and derives the
// effective window. All configuration errors surface here, never at
// call time.
func NewStream(cell Cell, opts ...StreamOption) (*Stream, error) {
	s := &Stream{
		cell:      cell,
		mode:      Training,
		batchSize: 1,
		pad:       PaddingNone,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.explicitRing && s.ringSize < 1 {
		return nil, fmt.Errorf("ring buffer size %d must be at least 1", s.ringSize)
	}

	switch c := cell.(type) {
	case *Conv1D:
		if s.mode.Streaming() && c.stride() > 1 {
			return nil, fmt.Errorf("%w: conv1d stride %d", ErrStreamingStride, c.stride())
		}
		if !s.explicitRing {
			s.ringSize = c.effectiveWindow()
		}
	case *DepthwiseConv1D:
		if s.mode.Streaming() && c.stride() > 1 {
			return nil, fmt.Errorf("%w: depthwise conv1d stride %d", ErrStreamingStride, c.stride())
		}
		if !s.explicitRing {
			s.ringSize = c.effectiveWindow()
		}
	case *AvgPool1D:
		if s.mode.Streaming() && c.stride() != c.PoolSize {
			return nil, fmt.Errorf("%w: stride %d, pool size %d", ErrPoolStride, c.stride(), c.PoolSize)
		}
		if !s.explicitRing {
			s.ringSize = c.PoolSize
		}
	case *Flatten:
		// The flattened window is the whole training-time extent. It is
		// recorded into the state shape during a non-streaming build and
		// must be carried over when constructing streaming instances.
		if s.stateShape != nil {
			s.ringSize = s.stateShape[1]
		} else if s.mode.Streaming() {
			return nil, fmt.Errorf("flatten cell needs an explicit state shape in streaming mode: %w", ErrStateShape)
		}
	case *Identity:
		if !s.explicitRing {
			s.ringSize = 1
		}
	default:
		if !s.explicitRing {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCell, cell.Kind())
		}
	}

	if _, isFlatten := cell.(*Flatten); s.ringSize == 1 && !isFlatten {
		slog.Warn("wrapping a cell with an effective time window of 1 has no effect", "cell", cell.Kind())
	}

	return s, nil
}

func (s *Stream) Cell() Cell          { return s.cell }
func (s *Stream) Mode() Mode          { return s.mode }
func (s *Stream) Padding() Padding    { return s.pad }
func (s *Stream) BatchSize() int      { return s.batchSize }
func (s *Stream) RingBufferSize() int { return s.ringSize }

// StateShape is the derived [batch, window, feat...] buffer shape, or
// nil before the wrapper has been built.
func (s *Stream) StateShape() []int { return slices.Clone(s.stateShape) }

// ExplicitRing reports whether the window came from configuration
// rather than the cell.
func (s *Stream) ExplicitRing() bool { return s.explicitRing }

// Build derives the state shape from the input shape and allocates the
// zero-filled buffer. Forward and ForwardWithState call it on first
// use; it only needs to be called directly when wiring state tensors
// before the first step.
func (s *Stream) Build(inputShape []int) error {
	if s.built {
		return nil
	}
	if len(inputShape) < 2 {
		return fmt.Errorf("input shape %v has no time axis", inputShape)
	}

	if s.stateShape == nil {
		if _, isFlatten := s.cell.(*Flatten); isFlatten {
			// Record the whole input extent; only available here, in a
			// non-streaming build.
			s.stateShape = append([]int{s.batchSize}, inputShape[1:]...)
			s.ringSize = inputShape[1]
		} else {
			s.stateShape = append([]int{s.batchSize, s.ringSize}, inputShape[2:]...)
		}
	}

	switch s.mode {
	case StreamInternalStateInference:
		s.states = Zeros(s.stateShape...)
	case StreamExternalStateInference:
		s.inputState = Zeros(s.stateShape...)
	}

	s.built = true
	return nil
}

// Forward runs the wrapper in the training, non-streaming inference or
// internal-state streaming modes. External-state instances must use
// ForwardWithState.
func (s *Stream) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	switch s.mode {
	case Training, NonStreamInference:
		if err := s.Build(x.Shape()); err != nil {
			return nil, err
		}
		return s.nonStreaming(x)
	case StreamInternalStateInference:
		if err := s.Build(x.Shape()); err != nil {
			return nil, err
		}
		return s.streamingInternalState(x)
	default:
		return nil, fmt.Errorf("%w: Forward in %s, use ForwardWithState", ErrWrongMode, s.mode)
	}
}

// ForwardWithState runs one external-state streaming step. A nil state
// stands for the zero-filled seed buffer. The updated buffer is
// returned alongside the output; the wrapper itself keeps no state
// between calls.
func (s *Stream) ForwardWithState(x, state *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if s.mode != StreamExternalStateInference {
		return nil, nil, fmt.Errorf("%w: ForwardWithState in %s", ErrWrongMode, s.mode)
	}
	if err := s.Build(x.Shape()); err != nil {
		return nil, nil, err
	}
	if state == nil {
		state = s.inputState
	}
	if !state.Shape().Eq(tensor.Shape(s.stateShape)) {
		return nil, nil, fmt.Errorf("%w: got %v, want %v", ErrStateShape, state.Shape(), s.stateShape)
	}
	if err := s.checkStep(x); err != nil {
		return nil, nil, err
	}

	memory, err := shiftAppend(state, x)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.cell.Forward(memory)
	if err != nil {
		return nil, nil, err
	}

	s.outputState = memory
	return out, memory, nil
}

// InputState returns the zero seed buffer the first streaming step
// starts from. Valid only in external-state mode, after Build.
func (s *Stream) InputState() (*tensor.Dense, error) {
	if s.mode != StreamExternalStateInference {
		return nil, fmt.Errorf("%w: input state in %s", ErrWrongMode, s.mode)
	}
	if !s.built {
		return nil, ErrNotBuilt
	}
	return s.inputState, nil
}

// OutputState returns the state produced by the most recent
// ForwardWithState call. Valid only in external-state mode.
func (s *Stream) OutputState() (*tensor.Dense, error) {
	if s.mode != StreamExternalStateInference {
		return nil, fmt.Errorf("%w: output state in %s", ErrWrongMode, s.mode)
	}
	if !s.built {
		return nil, ErrNotBuilt
	}
	return s.outputState, nil
}

// CloneForMode constructs a new instance of this wrapper in another
// mode, sharing the cell (and its weights) and carrying over the
// recorded state shape so streaming instances of Flatten and of
// standalone graphs stay constructible.
func (s *Stream) CloneForMode(mode Mode, batchSize int) (*Stream, error) {
	opts := []StreamOption{WithMode(mode), WithBatchSize(batchSize), WithPadding(s.pad)}
	if s.explicitRing {
		opts = append(opts, WithRingBufferSize(s.ringSize))
	}
	if s.stateShape != nil {
		shape := slices.Clone(s.stateShape)
		shape[0] = batchSize
		opts = append(opts, WithStateShape(shape))
	}
	return NewStream(s.cell, opts...)
}

func (s *Stream) nonStreaming(x *tensor.Dense) (*tensor.Dense, error) {
	if s.pad != PaddingNone && s.ringSize > 1 {
		var left, right int
		switch s.pad {
		case PaddingCausal:
			left = s.ringSize - 1
		case PaddingSame:
			left = (s.ringSize - 1) / 2
			right = s.ringSize / 2
		}
		var err error
		if x, err = PadTime(x, left, right); err != nil {
			return nil, err
		}
	}
	return s.cell.Forward(x)
}

func (s *Stream) streamingInternalState(x *tensor.Dense) (*tensor.Dense, error) {
	if err := s.checkStep(x); err != nil {
		return nil, err
	}

	memory, err := shiftAppend(s.states, x)
	if err != nil {
		return nil, err
	}
	s.states = memory

	return s.cell.Forward(memory)
}

func (s *Stream) checkStep(x *tensor.Dense) error {
	xs := x.Shape()
	if xs[1] != 1 {
		return fmt.Errorf("%w: got %d", ErrOneStep, xs[1])
	}
	if xs[0] != s.stateShape[0] {
		return fmt.Errorf("%w: batch %d, want %d", ErrStateShape, xs[0], s.stateShape[0])
	}
	return nil
}
