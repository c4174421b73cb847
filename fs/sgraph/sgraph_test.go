package sgraph

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdevine/tensor"
	"github.com/stretchr/testify/require"

	"github.com/reuben/kws-streaming/convert"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

func randSeq(rnd *rand.Rand, batch, t, feat int) *tensor.Dense {
	data := make([]float32, batch*t*feat)
	for i := range data {
		data[i] = rnd.Float32()*2 - 1
	}
	return tensor.New(tensor.WithShape(batch, t, feat), tensor.WithBacking(data))
}

func buildCNN(t *testing.T, rnd *rand.Rand, timeSteps int) *model.Pipeline {
	p, err := model.NewCNN(model.CNNConfig{
		Features:    3,
		Filters:     []int{4, 4},
		KernelSizes: []int{3, 3},
		Dilations:   []int{1, 2},
		Units:       []int{5, 2},
		TimeSteps:   timeSteps,
	}, rnd)
	require.NoError(t, err)
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	p := buildCNN(t, rnd, 10)

	seq := randSeq(rnd, 1, 10, 3)
	want, err := p.Forward(seq)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cnn.sgraph")
	require.NoError(t, Save(path, p))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, p.Name, loaded.Name)
	require.Len(t, loaded.Ops, len(p.Ops))

	got, err := loaded.Forward(seq)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float32), got.Data().([]float32), 1e-6)
}

func TestSaveLoadResidual(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))

	p, err := model.NewDSTCResNet(model.DSTCResNetConfig{
		Features: 3,
		Blocks: []model.DSTCBlock{
			{Filters: 4, KernelSize: 3, Dilation: 1, Residual: true},
			{Filters: 3, KernelSize: 3, Dilation: 2, Residual: true},
		},
	}, rnd)
	require.NoError(t, err)

	seq := randSeq(rnd, 1, 12, 3)
	want, err := p.Forward(seq)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "resnet.sgraph")
	require.NoError(t, Save(path, p))

	loaded, err := Load(path)
	require.NoError(t, err)

	got, err := loaded.Forward(seq)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float32), got.Data().([]float32), 1e-6)
}

// A graph saved after a training-mode forward keeps its flatten extent
// and can be loaded straight into a streaming mode.
func TestLoadAsStreams(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	const timeSteps = 8

	p := buildCNN(t, rnd, timeSteps)
	seq := randSeq(rnd, 1, timeSteps, 3)

	want, err := p.Forward(seq)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cnn.sgraph")
	require.NoError(t, Save(path, p))

	sp, err := LoadAs(path, layers.StreamInternalStateInference, 1)
	require.NoError(t, err)

	out, err := convert.RunSequence(convert.NewRunner(sp), seq)
	require.NoError(t, err)

	last, err := layers.SliceTime(out, timeSteps-1, timeSteps)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float32), last.Data().([]float32), 1e-5)
}

// The saved file records the pipeline's mode and batch size; Load
// rebuilds in that mode and LoadAs overrides it in either direction.
func TestSaveRecordsModeAndBatch(t *testing.T) {
	rnd := rand.New(rand.NewSource(6))
	const timeSteps = 8

	p := buildCNN(t, rnd, timeSteps)
	seq := randSeq(rnd, 1, timeSteps, 3)
	want, err := p.Forward(seq)
	require.NoError(t, err)

	sp, err := convert.ToStreaming(p, layers.StreamInternalStateInference, 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "streaming.sgraph")
	require.NoError(t, Save(path, sp))

	// Load honors the saved streaming mode
	loaded, err := Load(path)
	require.NoError(t, err)
	s := loaded.Ops[0].(*layers.Stream)
	require.Equal(t, layers.StreamInternalStateInference, s.Mode())
	require.Equal(t, 1, s.BatchSize())

	out, err := convert.RunSequence(convert.NewRunner(loaded), seq)
	require.NoError(t, err)
	last, err := layers.SliceTime(out, timeSteps-1, timeSteps)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float32), last.Data().([]float32), 1e-5)

	// LoadAs overrides back to a whole-sequence mode
	back, err := LoadAs(path, layers.NonStreamInference, 1)
	require.NoError(t, err)
	require.Equal(t, layers.NonStreamInference, back.Ops[0].(*layers.Stream).Mode())

	got, err := back.Forward(seq)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Data().([]float32), got.Data().([]float32), 1e-6)
}

func TestSaveRecordsTrainingMode(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	p := buildCNN(t, rnd, 6)
	path := filepath.Join(t.TempDir(), "training.sgraph")
	require.NoError(t, Save(path, p))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, layers.Training, loaded.Ops[0].(*layers.Stream).Mode())
}

func TestHalfPrecisionWeights(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))

	for _, dt := range []DType{F16, BF16} {
		p := buildCNN(t, rnd, 6)
		seq := randSeq(rnd, 1, 6, 3)

		want, err := p.Forward(seq)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "half.sgraph")
		require.NoError(t, Save(path, p, WithDType(dt)))

		loaded, err := Load(path)
		require.NoError(t, err)

		got, err := loaded.Forward(seq)
		require.NoError(t, err)

		// weights are in [-0.5, 0.5]; half precision keeps ~2-3 decimal digits
		require.InDeltaSlice(t, want.Data().([]float32), got.Data().([]float32), 0.05,
			"dtype %s", dt)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.sgraph")
	require.NoError(t, os.WriteFile(path, []byte("not a graph"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRejectsUnknownOp(t *testing.T) {
	p := model.NewPipeline("custom", opFunc(func(x *tensor.Dense) (*tensor.Dense, error) { return x, nil }))
	err := Save(filepath.Join(t.TempDir(), "x.sgraph"), p)
	require.Error(t, err)
}

type opFunc func(*tensor.Dense) (*tensor.Dense, error)

func (f opFunc) Forward(x *tensor.Dense) (*tensor.Dense, error) { return f(x) }
