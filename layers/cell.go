package layers

import (
	"fmt"

	"github.com/pdevine/tensor"
)

// Cell is a stateless transformation over a fixed temporal window.
// The Stream wrapper does not interpret a cell beyond deriving its
// effective window in time; the arithmetic is the cell's own.
//
// Cells outside the recognized set (Conv1D, DepthwiseConv1D,
// AvgPool1D, Flatten, Identity) can still be wrapped by supplying an
// explicit ring buffer size to the wrapper.
type Cell interface {
	Kind() string
	Forward(x *tensor.Dense) (*tensor.Dense, error)
}

// Identity passes its input through unchanged. Useful together with an
// explicit ring buffer size to expose the raw sliding window to a
// downstream op.
type Identity struct{}

func (Identity) Kind() string { return "identity" }

func (Identity) Forward(x *tensor.Dense) (*tensor.Dense, error) { return x, nil }

// Conv1D convolves over the time axis of a [batch, time, in] tensor
// producing [batch, outTime, filters]. Valid padding only; the Stream
// wrapper owns any padding policy.
type Conv1D struct {
	Filters    int
	KernelSize int
	Dilation   int // defaults to 1
	Stride     int // defaults to 1
	Activation string
	UseBias    bool

	Weight *tensor.Dense // [kernel, in, filters]
	Bias   *tensor.Dense // [filters]
}

func (c *Conv1D) Kind() string { return "conv1d" }

func (c *Conv1D) dilation() int {
	if c.Dilation < 1 {
		return 1
	}
	return c.Dilation
}

func (c *Conv1D) stride() int {
	if c.Stride < 1 {
		return 1
	}
	return c.Stride
}

// effectiveWindow is the kernel size stretched by dilation: the number
// of trailing steps one output step depends on.
func (c *Conv1D) effectiveWindow() int {
	return c.dilation()*(c.KernelSize-1) + 1
}

func (c *Conv1D) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) != 3 {
		return nil, fmt.Errorf("conv1d expects [batch, time, features], got %v", xs)
	}
	if c.Weight == nil {
		return nil, fmt.Errorf("conv1d has no weights")
	}
	ws := c.Weight.Shape()
	if len(ws) != 3 || ws[0] != c.KernelSize || ws[1] != xs[2] || ws[2] != c.Filters {
		return nil, fmt.Errorf("conv1d weight shape %v does not match kernel=%d in=%d filters=%d", ws, c.KernelSize, xs[2], c.Filters)
	}

	batch, t, in := xs[0], xs[1], xs[2]
	dil, stride := c.dilation(), c.stride()
	outT := (t-c.effectiveWindow())/stride + 1
	if outT < 1 {
		return nil, fmt.Errorf("conv1d input of %d steps is shorter than its window of %d", t, c.effectiveWindow())
	}

	xd := x.Data().([]float32)
	wd := c.Weight.Data().([]float32)
	var bd []float32
	if c.UseBias && c.Bias != nil {
		bd = c.Bias.Data().([]float32)
	}

	out := make([]float32, batch*outT*c.Filters)
	for n := 0; n < batch; n++ {
		for ot := 0; ot < outT; ot++ {
			t0 := ot * stride
			for f := 0; f < c.Filters; f++ {
				var acc float32
				for k := 0; k < c.KernelSize; k++ {
					row := xd[(n*t+t0+k*dil)*in : (n*t+t0+k*dil+1)*in]
					for i := 0; i < in; i++ {
						acc += row[i] * wd[(k*in+i)*c.Filters+f]
					}
				}
				if bd != nil {
					acc += bd[f]
				}
				out[(n*outT+ot)*c.Filters+f] = acc
			}
		}
	}

	res := tensor.New(tensor.WithShape(batch, outT, c.Filters), tensor.WithBacking(out))
	if err := Activate(c.Activation, res); err != nil {
		return nil, err
	}
	return res, nil
}

// DepthwiseConv1D convolves each feature channel with its own kernel
// over the time axis, keeping the channel count unchanged.
type DepthwiseConv1D struct {
	KernelSize int
	Dilation   int
	Stride     int
	Activation string
	UseBias    bool

	Weight *tensor.Dense // [kernel, features]
	Bias   *tensor.Dense // [features]
}

func (c *DepthwiseConv1D) Kind() string { return "depthwise_conv1d" }

func (c *DepthwiseConv1D) dilation() int {
	if c.Dilation < 1 {
		return 1
	}
	return c.Dilation
}

func (c *DepthwiseConv1D) stride() int {
	if c.Stride < 1 {
		return 1
	}
	return c.Stride
}

func (c *DepthwiseConv1D) effectiveWindow() int {
	return c.dilation()*(c.KernelSize-1) + 1
}

func (c *DepthwiseConv1D) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) != 3 {
		return nil, fmt.Errorf("depthwise conv1d expects [batch, time, features], got %v", xs)
	}
	if c.Weight == nil {
		return nil, fmt.Errorf("depthwise conv1d has no weights")
	}
	ws := c.Weight.Shape()
	if len(ws) != 2 || ws[0] != c.KernelSize || ws[1] != xs[2] {
		return nil, fmt.Errorf("depthwise conv1d weight shape %v does not match kernel=%d features=%d", ws, c.KernelSize, xs[2])
	}

	batch, t, feat := xs[0], xs[1], xs[2]
	dil, stride := c.dilation(), c.stride()
	outT := (t-c.effectiveWindow())/stride + 1
	if outT < 1 {
		return nil, fmt.Errorf("depthwise conv1d input of %d steps is shorter than its window of %d", t, c.effectiveWindow())
	}

	xd := x.Data().([]float32)
	wd := c.Weight.Data().([]float32)
	var bd []float32
	if c.UseBias && c.Bias != nil {
		bd = c.Bias.Data().([]float32)
	}

	out := make([]float32, batch*outT*feat)
	for n := 0; n < batch; n++ {
		for ot := 0; ot < outT; ot++ {
			t0 := ot * stride
			for i := 0; i < feat; i++ {
				var acc float32
				for k := 0; k < c.KernelSize; k++ {
					acc += xd[(n*t+t0+k*dil)*feat+i] * wd[k*feat+i]
				}
				if bd != nil {
					acc += bd[i]
				}
				out[(n*outT+ot)*feat+i] = acc
			}
		}
	}

	res := tensor.New(tensor.WithShape(batch, outT, feat), tensor.WithBacking(out))
	if err := Activate(c.Activation, res); err != nil {
		return nil, err
	}
	return res, nil
}

// AvgPool1D averages over windows of the time axis. Works on any
// [batch, time, feat...] shape.
type AvgPool1D struct {
	PoolSize int
	Stride   int // defaults to PoolSize
}

func (c *AvgPool1D) Kind() string { return "avg_pool1d" }

func (c *AvgPool1D) stride() int {
	if c.Stride < 1 {
		return c.PoolSize
	}
	return c.Stride
}

func (c *AvgPool1D) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("avg pool expects [batch, time, feat...], got %v", xs)
	}

	batch, t := xs[0], xs[1]
	feat := featureSize(xs)
	stride := c.stride()
	outT := (t-c.PoolSize)/stride + 1
	if outT < 1 {
		return nil, fmt.Errorf("avg pool input of %d steps is shorter than its pool of %d", t, c.PoolSize)
	}

	xd := x.Data().([]float32)
	out := make([]float32, batch*outT*feat)
	inv := 1 / float32(c.PoolSize)
	for n := 0; n < batch; n++ {
		for ot := 0; ot < outT; ot++ {
			t0 := ot * stride
			for i := 0; i < feat; i++ {
				var acc float32
				for k := 0; k < c.PoolSize; k++ {
					acc += xd[(n*t+t0+k)*feat+i]
				}
				out[(n*outT+ot)*feat+i] = acc * inv
			}
		}
	}

	shape := append([]int{batch, outT}, xs[2:]...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// Flatten collapses the time and feature axes into one vector per
// batch element. When streamed, the wrapper's ring buffer replays the
// full training-time extent so the flattened width stays fixed.
type Flatten struct{}

func (Flatten) Kind() string { return "flatten" }

func (Flatten) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("flatten expects [batch, time, feat...], got %v", xs)
	}

	xd := x.Data().([]float32)
	out := make([]float32, len(xd))
	copy(out, xd)
	return tensor.New(tensor.WithShape(xs[0], len(xd)/xs[0]), tensor.WithBacking(out)), nil
}
