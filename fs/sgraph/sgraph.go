// Package sgraph reads and writes streaming graph files: a CBOR
// envelope holding the pipeline structure and its weights. Weights may
// be stored as float32, float16, or bfloat16; they are always float32
// in memory.
package sgraph

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/d4l3k/go-bfloat16"
	"github.com/fxamacker/cbor/v2"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"

	"github.com/reuben/kws-streaming/api"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

const (
	Magic   = "SGRF"
	Version = 1
)

type DType string

const (
	F32  DType = "f32"
	F16  DType = "f16"
	BF16 DType = "bf16"
)

// Weight is one named tensor in the file. Data is row major in the
// encoding named by DType.
type Weight struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

type File struct {
	Magic   string          `json:"magic"`
	Version int             `json:"version"`
	Config  api.GraphConfig `json:"config"`
	Weights []Weight        `json:"weights"`
}

type SaveOption func(*saveOptions)

type saveOptions struct {
	dtype DType
}

// WithDType selects the on-disk weight encoding. The default is F32.
func WithDType(dt DType) SaveOption {
	return func(o *saveOptions) { o.dtype = dt }
}

// Save writes the pipeline to path. The mode and batch size of the
// pipeline's stateful ops are recorded in the file; Load rebuilds in
// that mode, LoadAs overrides it.
func Save(path string, p *model.Pipeline, opts ...SaveOption) error {
	so := saveOptions{dtype: F32}
	for _, opt := range opts {
		opt(&so)
	}

	var w []Weight
	ops, err := encodeOps(p.Ops, "ops", so.dtype, &w)
	if err != nil {
		return err
	}

	mode, batch := pipelineMode(p.Ops)
	f := File{
		Magic:   Magic,
		Version: Version,
		Config: api.GraphConfig{
			Name:      p.Name,
			Mode:      mode,
			BatchSize: batch,
			Ops:       ops,
		},
		Weights: w,
	}

	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a graph file and rebuilds its pipeline in the mode and
// batch size it was saved with.
func Load(path string) (*model.Pipeline, error) {
	f, weights, err := readFile(path)
	if err != nil {
		return nil, err
	}

	batch := f.Config.BatchSize
	if batch < 1 {
		batch = 1
	}

	ops, err := decodeOps(f.Config.Ops, "ops", weights, f.Config.Mode, batch)
	if err != nil {
		return nil, err
	}
	return &model.Pipeline{Name: f.Config.Name, Ops: ops}, nil
}

func readFile(path string) (File, map[string]*tensor.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, nil, err
	}

	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return File{}, nil, fmt.Errorf("decoding graph: %w", err)
	}
	if f.Magic != Magic {
		return File{}, nil, fmt.Errorf("not a graph file (magic %q)", f.Magic)
	}
	if f.Version > Version {
		return File{}, nil, fmt.Errorf("graph version %d is newer than supported version %d", f.Version, Version)
	}

	weights := make(map[string]*tensor.Dense, len(f.Weights))
	for _, w := range f.Weights {
		t, err := decodeWeight(w)
		if err != nil {
			return File{}, nil, fmt.Errorf("weight %s: %w", w.Name, err)
		}
		weights[w.Name] = t
	}
	return f, weights, nil
}

// Stat reads just enough of a graph file to describe it.
func Stat(path string) (api.GraphInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return api.GraphInfo{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.GraphInfo{}, err
	}

	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return api.GraphInfo{}, fmt.Errorf("decoding graph: %w", err)
	}
	if f.Magic != Magic {
		return api.GraphInfo{}, fmt.Errorf("not a graph file (magic %q)", f.Magic)
	}

	return api.GraphInfo{
		Name:     f.Config.Name,
		Size:     fi.Size(),
		Ops:      countOps(f.Config.Ops),
		Modified: fi.ModTime().Format("2006-01-02 15:04:05"),
	}, nil
}

func countOps(cfgs []api.OpConfig) int {
	n := 0
	for _, cfg := range cfgs {
		n++
		n += countOps(cfg.Body)
		n += countOps(cfg.Skip)
	}
	return n
}

// LoadAs loads a graph in the given mode and batch size, overriding
// whatever the file was saved with. Weights and recorded state shapes
// carry over, so any of the four modes can be re-entered.
func LoadAs(path string, mode layers.Mode, batchSize int) (*model.Pipeline, error) {
	f, weights, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if batchSize < 1 {
		batchSize = 1
	}

	ops, err := decodeOps(f.Config.Ops, "ops", weights, mode, batchSize)
	if err != nil {
		return nil, err
	}
	return &model.Pipeline{Name: f.Config.Name, Ops: ops}, nil
}

func encodeWeight(name string, t *tensor.Dense, dt DType, out *[]Weight) {
	if t == nil {
		return
	}

	src := t.Data().([]float32)
	var data []byte
	switch dt {
	case F16:
		data = make([]byte, 2*len(src))
		for i, v := range src {
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
		}
	case BF16:
		data = bfloat16.EncodeFloat32(src)
	default:
		data = make([]byte, 4*len(src))
		for i, v := range src {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		}
	}

	*out = append(*out, Weight{
		Name:  name,
		DType: dt,
		Shape: []int(t.Shape()),
		Data:  data,
	})
}

func decodeWeight(w Weight) (*tensor.Dense, error) {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}

	var data []float32
	switch w.DType {
	case F32:
		if len(w.Data) != 4*n {
			return nil, fmt.Errorf("have %d bytes, want %d", len(w.Data), 4*n)
		}
		data = make([]float32, n)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(w.Data[4*i:]))
		}
	case F16:
		if len(w.Data) != 2*n {
			return nil, fmt.Errorf("have %d bytes, want %d", len(w.Data), 2*n)
		}
		data = make([]float32, n)
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(w.Data[2*i:])).Float32()
		}
	case BF16:
		if len(w.Data) != 2*n {
			return nil, fmt.Errorf("have %d bytes, want %d", len(w.Data), 2*n)
		}
		data = bfloat16.DecodeFloat32(w.Data)
	default:
		return nil, fmt.Errorf("unsupported dtype %q", w.DType)
	}

	return tensor.New(tensor.WithShape(w.Shape...), tensor.WithBacking(data)), nil
}
