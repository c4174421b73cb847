package model

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/reuben/kws-streaming/layers"
)

// Dense is a fully connected head over [batch, in] inputs, used after
// a streamed Flatten. It has no time axis and needs no wrapping.
type Dense struct {
	Units      int
	Activation string
	UseBias    bool

	Weight *tensor.Dense // [in, units]
	Bias   *tensor.Dense // [units]
}

func (d *Dense) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) != 2 {
		return nil, fmt.Errorf("dense expects [batch, features], got %v", xs)
	}
	if d.Weight == nil {
		return nil, fmt.Errorf("dense has no weights")
	}
	ws := d.Weight.Shape()
	if len(ws) != 2 || ws[0] != xs[1] || ws[1] != d.Units {
		return nil, fmt.Errorf("dense weight shape %v does not match in=%d units=%d", ws, xs[1], d.Units)
	}

	batch, in := xs[0], xs[1]
	xd := x.Data().([]float32)
	wd := d.Weight.Data().([]float32)
	var bd []float32
	if d.UseBias && d.Bias != nil {
		bd = d.Bias.Data().([]float32)
	}

	out := make([]float32, batch*d.Units)
	for n := 0; n < batch; n++ {
		for u := 0; u < d.Units; u++ {
			var acc float32
			for i := 0; i < in; i++ {
				acc += xd[n*in+i] * wd[i*d.Units+u]
			}
			if bd != nil {
				acc += bd[u]
			}
			out[n*d.Units+u] = acc
		}
	}

	res := tensor.New(tensor.WithShape(batch, d.Units), tensor.WithBacking(out))
	if err := layers.Activate(d.Activation, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Activation applies a pointwise nonlinearity. Pointwise ops have no
// temporal receptive field, so they stream as-is.
type Activation struct {
	Name string
}

func (a *Activation) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xd := x.Data().([]float32)
	out := make([]float32, len(xd))
	copy(out, xd)

	res := tensor.New(tensor.WithShape(x.Shape()...), tensor.WithBacking(out))
	if err := layers.Activate(a.Name, res); err != nil {
		return nil, err
	}
	return res, nil
}
