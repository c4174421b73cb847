package model

import (
	"fmt"
	"math/rand"

	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/layers"
)

// RandWeights fills a tensor with uniform values in [-scale, scale].
// Topology constructors use it for initial weights; trained weights
// come from a saved graph.
func RandWeights(rnd *rand.Rand, scale float32, shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = (rnd.Float32()*2 - 1) * scale
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// CNNConfig describes a stack of streamed time convolutions followed
// by a flattened dense head, after the small-footprint keyword
// spotting CNN.
type CNNConfig struct {
	Features    int
	Filters     []int
	KernelSizes []int
	Dilations   []int
	Activations []string
	Units       []int
	Padding     layers.Padding

	// TimeSteps is the training-time sequence length reaching the
	// flatten layer. Required when Units is set: it fixes the width of
	// the dense head and the flatten ring buffer. Causal and same
	// padding preserve the input length, so this is normally just the
	// input sequence length.
	TimeSteps int
}

// NewCNN assembles the training-mode pipeline. Convert it with
// convert.ToStreaming to obtain the streaming twin.
func NewCNN(cfg CNNConfig, rnd *rand.Rand) (*Pipeline, error) {
	if len(cfg.Filters) != len(cfg.KernelSizes) {
		return nil, fmt.Errorf("filters and kernel sizes must have the same length")
	}

	pad := cfg.Padding
	if pad == "" {
		pad = layers.PaddingCausal
	}

	p := NewPipeline("cnn")
	in := cfg.Features
	for i, filters := range cfg.Filters {
		kernel := cfg.KernelSizes[i]
		dilation := 1
		if i < len(cfg.Dilations) {
			dilation = cfg.Dilations[i]
		}
		activation := "relu"
		if i < len(cfg.Activations) {
			activation = cfg.Activations[i]
		}

		cell := &layers.Conv1D{
			Filters:    filters,
			KernelSize: kernel,
			Dilation:   dilation,
			Activation: activation,
			Weight:     RandWeights(rnd, 0.5, kernel, in, filters),
		}
		s, err := layers.NewStream(cell, layers.WithPadding(pad))
		if err != nil {
			return nil, fmt.Errorf("conv layer %d: %w", i, err)
		}
		p.Add(s)
		in = filters
	}

	if len(cfg.Units) > 0 {
		if cfg.TimeSteps < 1 {
			return nil, fmt.Errorf("a dense head needs TimeSteps to size the flatten layer")
		}

		flat, err := layers.NewStream(&layers.Flatten{},
			layers.WithStateShape([]int{1, cfg.TimeSteps, in}))
		if err != nil {
			return nil, err
		}
		p.Add(flat)

		width := cfg.TimeSteps * in
		for i, units := range cfg.Units {
			activation := "relu"
			if i == len(cfg.Units)-1 {
				activation = "linear"
			}
			p.Add(&Dense{
				Units:      units,
				Activation: activation,
				Weight:     RandWeights(rnd, 0.5, width, units),
			})
			width = units
		}
	}

	return p, nil
}

// DSTCBlock is one residual block of depthwise and pointwise time
// convolutions, after the MatchboxNet / Jasper block structure.
type DSTCBlock struct {
	Filters    int
	KernelSize int
	Dilation   int
	Residual   bool
}

type DSTCResNetConfig struct {
	Features   int
	Blocks     []DSTCBlock
	Activation string
	Padding    layers.Padding
}

// NewDSTCResNet assembles a ds_tc_resnet style pipeline: every block
// runs a depthwise conv and a 1x1 conv, optionally in parallel with a
// 1x1 conv skip branch. Causal padding keeps both branches aligned in
// streaming mode without extra delays.
func NewDSTCResNet(cfg DSTCResNetConfig, rnd *rand.Rand) (*Pipeline, error) {
	pad := cfg.Padding
	if pad == "" {
		pad = layers.PaddingCausal
	}
	activation := cfg.Activation
	if activation == "" {
		activation = "relu"
	}

	p := NewPipeline("ds_tc_resnet")
	in := cfg.Features
	for i, blk := range cfg.Blocks {
		dw := &layers.DepthwiseConv1D{
			KernelSize: blk.KernelSize,
			Dilation:   blk.Dilation,
			Weight:     RandWeights(rnd, 0.5, blk.KernelSize, in),
		}
		dwStream, err := layers.NewStream(dw, layers.WithPadding(pad))
		if err != nil {
			return nil, fmt.Errorf("block %d depthwise: %w", i, err)
		}

		pw := &layers.Conv1D{
			Filters:    blk.Filters,
			KernelSize: 1,
			Weight:     RandWeights(rnd, 0.5, 1, in, blk.Filters),
		}
		pwStream, err := layers.NewStream(pw)
		if err != nil {
			return nil, fmt.Errorf("block %d pointwise: %w", i, err)
		}

		body := []Op{dwStream, pwStream}

		if blk.Residual {
			res := &layers.Conv1D{
				Filters:    blk.Filters,
				KernelSize: 1,
				Weight:     RandWeights(rnd, 0.5, 1, in, blk.Filters),
			}
			resStream, err := layers.NewStream(res)
			if err != nil {
				return nil, fmt.Errorf("block %d skip: %w", i, err)
			}
			p.Add(&Residual{Body: body, Skip: []Op{resStream}})
		} else {
			p.Add(body...)
		}

		p.Add(&Activation{Name: activation})
		in = blk.Filters
	}

	return p, nil
}
