package layers

import (
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/require"
)

func TestConcatTime(t *testing.T) {
	a := tensor.New(tensor.WithShape(2, 2, 1), tensor.WithBacking([]float32{1, 2, 5, 6}))
	b := tensor.New(tensor.WithShape(2, 1, 1), tensor.WithBacking([]float32{3, 7}))

	out, err := ConcatTime(a, b)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 1}, []int(out.Shape()))
	require.InDeltaSlice(t, []float32{1, 2, 3, 5, 6, 7}, out.Data().([]float32), 1e-6)
}

func TestConcatTimeMismatch(t *testing.T) {
	a := tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking(make([]float32, 4)))
	b := tensor.New(tensor.WithShape(1, 2, 3), tensor.WithBacking(make([]float32, 6)))

	_, err := ConcatTime(a, b)
	require.Error(t, err)
}

func TestSliceTime(t *testing.T) {
	x := tensor.New(tensor.WithShape(2, 3, 1), tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6}))

	out, err := SliceTime(x, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 1}, []int(out.Shape()))
	require.InDeltaSlice(t, []float32{2, 3, 5, 6}, out.Data().([]float32), 1e-6)

	_, err = SliceTime(x, 2, 4)
	require.Error(t, err)
}

func TestShiftAppend(t *testing.T) {
	state := tensor.New(tensor.WithShape(1, 3, 1), tensor.WithBacking([]float32{1, 2, 3}))
	step := tensor.New(tensor.WithShape(1, 1, 1), tensor.WithBacking([]float32{4}))

	next, err := shiftAppend(state, step)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 1}, []int(next.Shape()))
	require.InDeltaSlice(t, []float32{2, 3, 4}, next.Data().([]float32), 1e-6)
}

func TestPadTime(t *testing.T) {
	x := tensor.New(tensor.WithShape(1, 2, 1), tensor.WithBacking([]float32{1, 2}))

	out, err := PadTime(x, 2, 1)
	require.NoError(t, err)
	require.Equal(t, []int{1, 5, 1}, []int(out.Shape()))
	require.InDeltaSlice(t, []float32{0, 0, 1, 2, 0}, out.Data().([]float32), 1e-6)
}

func TestZeros(t *testing.T) {
	z := Zeros(2, 3, 4)
	require.Equal(t, []int{2, 3, 4}, []int(z.Shape()))
	require.Len(t, z.Data().([]float32), 24)
}

func TestModeRoundTrip(t *testing.T) {
	for _, m := range []Mode{Training, NonStreamInference, StreamInternalStateInference, StreamExternalStateInference} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}

	_, err := ParseMode("sideways")
	require.Error(t, err)
}

func TestParsePadding(t *testing.T) {
	for _, s := range []string{"none", "same", "causal", ""} {
		_, err := ParsePadding(s)
		require.NoError(t, err)
	}

	_, err := ParsePadding("full")
	require.Error(t, err)
}
