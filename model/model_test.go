package model

import (
	"math/rand"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/require"

	"github.com/reuben/kws-streaming/layers"
)

func randSeq(rnd *rand.Rand, batch, t, feat int) *tensor.Dense {
	data := make([]float32, batch*t*feat)
	for i := range data {
		data[i] = rnd.Float32()*2 - 1
	}
	return tensor.New(tensor.WithShape(batch, t, feat), tensor.WithBacking(data))
}

func TestPipelineForward(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	cell := &layers.Conv1D{
		Filters:    2,
		KernelSize: 3,
		Weight:     RandWeights(rnd, 0.5, 3, 4, 2),
	}
	s, err := layers.NewStream(cell, layers.WithPadding(layers.PaddingCausal))
	require.NoError(t, err)

	p := NewPipeline("test", s, &Activation{Name: "relu"})
	out, err := p.Forward(randSeq(rnd, 1, 8, 4))
	require.NoError(t, err)
	require.Equal(t, []int{1, 8, 2}, []int(out.Shape()))

	for _, v := range out.Data().([]float32) {
		require.GreaterOrEqual(t, v, float32(0))
	}
}

func TestResidualAdd(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	res := &Residual{
		Body: []Op{&Activation{Name: "linear"}},
		Skip: []Op{&Activation{Name: "linear"}},
	}

	in := randSeq(rnd, 1, 4, 3)
	out, err := res.Forward(in)
	require.NoError(t, err)

	inData := in.Data().([]float32)
	outData := out.Data().([]float32)
	for i := range inData {
		require.InDelta(t, 2*inData[i], outData[i], 1e-6)
	}
}

func TestResidualShapeMismatch(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	cell := &layers.Conv1D{Filters: 5, KernelSize: 1, Weight: RandWeights(rnd, 0.5, 1, 3, 5)}
	s, err := layers.NewStream(cell)
	require.NoError(t, err)

	res := &Residual{Body: []Op{s}, Skip: []Op{&Activation{Name: "linear"}}}
	_, err = res.Forward(randSeq(rnd, 1, 4, 3))
	require.Error(t, err)
}

func TestDense(t *testing.T) {
	d := &Dense{
		Units:  2,
		Weight: tensor.New(tensor.WithShape(3, 2), tensor.WithBacking([]float32{1, 0, 0, 1, 1, 1})),
	}

	in := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 2, 3}))
	out, err := d.Forward(in)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float32{4, 5}, out.Data().([]float32), 1e-6)
}

func TestNewCNN(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	p, err := NewCNN(CNNConfig{
		Features:    5,
		Filters:     []int{8, 4},
		KernelSizes: []int{3, 3},
		Dilations:   []int{1, 2},
		Units:       []int{6, 3},
		TimeSteps:   10,
	}, rnd)
	require.NoError(t, err)

	out, err := p.Forward(randSeq(rnd, 1, 10, 5))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, []int(out.Shape()))
}

func TestNewDSTCResNet(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	p, err := NewDSTCResNet(DSTCResNetConfig{
		Features: 4,
		Blocks: []DSTCBlock{
			{Filters: 4, KernelSize: 5, Dilation: 1, Residual: false},
			{Filters: 4, KernelSize: 3, Dilation: 2, Residual: true},
		},
	}, rnd)
	require.NoError(t, err)

	out, err := p.Forward(randSeq(rnd, 1, 12, 4))
	require.NoError(t, err)
	require.Equal(t, []int{1, 12, 4}, []int(out.Shape()))
}
