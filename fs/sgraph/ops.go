package sgraph

import (
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/api"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

// streamParams is the flattened parameter set of a stream op and its
// cell. Unused fields stay at their zero value and are omitted from
// the file.
type streamParams struct {
	Cell           string `mapstructure:"cell"`
	Padding        string `mapstructure:"padding"`
	RingBufferSize int    `mapstructure:"ring_buffer_size"`
	StateShape     []int  `mapstructure:"state_shape"`

	Filters    int    `mapstructure:"filters"`
	KernelSize int    `mapstructure:"kernel_size"`
	Dilation   int    `mapstructure:"dilation"`
	Stride     int    `mapstructure:"stride"`
	PoolSize   int    `mapstructure:"pool_size"`
	Activation string `mapstructure:"activation"`
	UseBias    bool   `mapstructure:"use_bias"`
}

type denseParams struct {
	Units      int    `mapstructure:"units"`
	Activation string `mapstructure:"activation"`
	UseBias    bool   `mapstructure:"use_bias"`
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

// pipelineMode reports the mode and batch size of the first stateful
// op found, recursing into residual branches. A pipeline of only
// pointwise ops has nothing to record; Training and batch 1 stand in.
func pipelineMode(ops []model.Op) (layers.Mode, int) {
	mode, batch, ok := firstStateful(ops)
	if !ok {
		return layers.Training, 1
	}
	return mode, batch
}

func firstStateful(ops []model.Op) (layers.Mode, int, bool) {
	for _, op := range ops {
		switch o := op.(type) {
		case *layers.Stream:
			return o.Mode(), o.BatchSize(), true
		case *layers.Delay:
			return o.Mode(), o.BatchSize(), true
		case *model.Residual:
			if m, b, ok := firstStateful(o.Body); ok {
				return m, b, true
			}
			if m, b, ok := firstStateful(o.Skip); ok {
				return m, b, true
			}
		}
	}
	return layers.Training, 1, false
}

func encodeOps(ops []model.Op, prefix string, dt DType, w *[]Weight) ([]api.OpConfig, error) {
	out := make([]api.OpConfig, 0, len(ops))
	for i, op := range ops {
		path := fmt.Sprintf("%s.%d", prefix, i)

		switch o := op.(type) {
		case *layers.Stream:
			cfg, err := encodeStream(o, path, dt, w)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, cfg)
		case *layers.Delay:
			out = append(out, api.OpConfig{
				Type:   "delay",
				Params: map[string]any{"delay": o.Steps()},
			})
		case *model.Dense:
			encodeWeight(path+".weight", o.Weight, dt, w)
			encodeWeight(path+".bias", o.Bias, dt, w)
			out = append(out, api.OpConfig{
				Type: "dense",
				Params: map[string]any{
					"units":      o.Units,
					"activation": o.Activation,
					"use_bias":   o.UseBias,
				},
			})
		case *model.Activation:
			out = append(out, api.OpConfig{
				Type:   "activation",
				Params: map[string]any{"name": o.Name},
			})
		case *model.Residual:
			body, err := encodeOps(o.Body, path+".body", dt, w)
			if err != nil {
				return nil, err
			}
			skip, err := encodeOps(o.Skip, path+".skip", dt, w)
			if err != nil {
				return nil, err
			}
			out = append(out, api.OpConfig{Type: "residual", Body: body, Skip: skip})
		default:
			return nil, fmt.Errorf("%s: cannot serialize op %T", path, op)
		}
	}
	return out, nil
}

func encodeStream(s *layers.Stream, path string, dt DType, w *[]Weight) (api.OpConfig, error) {
	params := map[string]any{
		"cell":    s.Cell().Kind(),
		"padding": string(s.Padding()),
	}
	if s.ExplicitRing() {
		params["ring_buffer_size"] = s.RingBufferSize()
	}
	if shape := s.StateShape(); shape != nil {
		params["state_shape"] = shape
	}

	switch c := s.Cell().(type) {
	case *layers.Conv1D:
		params["filters"] = c.Filters
		params["kernel_size"] = c.KernelSize
		params["dilation"] = c.Dilation
		params["stride"] = c.Stride
		params["activation"] = c.Activation
		params["use_bias"] = c.UseBias
		encodeWeight(path+".cell.weight", c.Weight, dt, w)
		encodeWeight(path+".cell.bias", c.Bias, dt, w)
	case *layers.DepthwiseConv1D:
		params["kernel_size"] = c.KernelSize
		params["dilation"] = c.Dilation
		params["stride"] = c.Stride
		params["activation"] = c.Activation
		params["use_bias"] = c.UseBias
		encodeWeight(path+".cell.weight", c.Weight, dt, w)
		encodeWeight(path+".cell.bias", c.Bias, dt, w)
	case *layers.AvgPool1D:
		params["pool_size"] = c.PoolSize
		params["stride"] = c.Stride
	case *layers.Flatten, *layers.Identity:
	default:
		return api.OpConfig{}, fmt.Errorf("cannot serialize cell kind %q", s.Cell().Kind())
	}

	return api.OpConfig{Type: "stream", Params: params}, nil
}

func decodeOps(cfgs []api.OpConfig, prefix string, weights map[string]*tensor.Dense, mode layers.Mode, batch int) ([]model.Op, error) {
	out := make([]model.Op, 0, len(cfgs))
	for i, cfg := range cfgs {
		path := fmt.Sprintf("%s.%d", prefix, i)

		switch cfg.Type {
		case "stream":
			s, err := decodeStream(cfg, path, weights, mode, batch)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, s)
		case "delay":
			var p struct {
				Delay int `mapstructure:"delay"`
			}
			if err := decodeParams(cfg.Params, &p); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			d, err := layers.NewDelay(p.Delay, mode, batch)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, d)
		case "dense":
			var p denseParams
			if err := decodeParams(cfg.Params, &p); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, &model.Dense{
				Units:      p.Units,
				Activation: p.Activation,
				UseBias:    p.UseBias,
				Weight:     weights[path+".weight"],
				Bias:       weights[path+".bias"],
			})
		case "activation":
			var p struct {
				Name string `mapstructure:"name"`
			}
			if err := decodeParams(cfg.Params, &p); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, &model.Activation{Name: p.Name})
		case "residual":
			body, err := decodeOps(cfg.Body, path+".body", weights, mode, batch)
			if err != nil {
				return nil, err
			}
			skip, err := decodeOps(cfg.Skip, path+".skip", weights, mode, batch)
			if err != nil {
				return nil, err
			}
			out = append(out, &model.Residual{Body: body, Skip: skip})
		default:
			return nil, fmt.Errorf("%s: unknown op type %q", path, cfg.Type)
		}
	}
	return out, nil
}

func decodeStream(cfg api.OpConfig, path string, weights map[string]*tensor.Dense, mode layers.Mode, batch int) (*layers.Stream, error) {
	var p streamParams
	if err := decodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}

	var cell layers.Cell
	switch p.Cell {
	case "conv1d":
		cell = &layers.Conv1D{
			Filters:    p.Filters,
			KernelSize: p.KernelSize,
			Dilation:   p.Dilation,
			Stride:     p.Stride,
			Activation: p.Activation,
			UseBias:    p.UseBias,
			Weight:     weights[path+".cell.weight"],
			Bias:       weights[path+".cell.bias"],
		}
	case "depthwise_conv1d":
		cell = &layers.DepthwiseConv1D{
			KernelSize: p.KernelSize,
			Dilation:   p.Dilation,
			Stride:     p.Stride,
			Activation: p.Activation,
			UseBias:    p.UseBias,
			Weight:     weights[path+".cell.weight"],
			Bias:       weights[path+".cell.bias"],
		}
	case "avg_pool1d":
		cell = &layers.AvgPool1D{PoolSize: p.PoolSize, Stride: p.Stride}
	case "flatten":
		cell = &layers.Flatten{}
	case "identity":
		cell = &layers.Identity{}
	default:
		return nil, fmt.Errorf("unknown cell kind %q", p.Cell)
	}

	pad, err := layers.ParsePadding(p.Padding)
	if err != nil {
		return nil, err
	}

	opts := []layers.StreamOption{
		layers.WithMode(mode),
		layers.WithBatchSize(batch),
		layers.WithPadding(pad),
	}
	if p.RingBufferSize > 0 {
		opts = append(opts, layers.WithRingBufferSize(p.RingBufferSize))
	}
	if len(p.StateShape) > 0 {
		// the recorded shape keeps the window and feature dims; the
		// batch dim follows the instance being constructed
		shape := slices.Clone(p.StateShape)
		shape[0] = batch
		opts = append(opts, layers.WithStateShape(shape))
	}
	return layers.NewStream(cell, opts...)
}
