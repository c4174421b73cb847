package cmd

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

func TestParseFrame(t *testing.T) {
	frame, err := parseFrame("1.5, -2 0.25")
	require.NoError(t, err)
	require.Equal(t, []float32{1.5, -2, 0.25}, frame)

	frame, err = parseFrame("   ")
	require.NoError(t, err)
	require.Nil(t, frame)

	_, err = parseFrame("1.5 oops")
	require.Error(t, err)
}

func TestConvertCommand(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	p, err := model.NewDSTCResNet(model.DSTCResNetConfig{
		Features: 2,
		Blocks:   []model.DSTCBlock{{Filters: 2, KernelSize: 3}},
	}, rnd)
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.sgraph")
	dst := filepath.Join(dir, "dst.sgraph")
	require.NoError(t, sgraph.Save(src, p))

	cmd := NewConvertCmd()
	cmd.SetArgs([]string{src, dst, "--dtype", "f16"})
	require.NoError(t, cmd.Execute())

	info, err := sgraph.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, 3, info.Ops)
}

func TestConvertCommandMode(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	p, err := model.NewDSTCResNet(model.DSTCResNetConfig{
		Features: 2,
		Blocks:   []model.DSTCBlock{{Filters: 2, KernelSize: 3}},
	}, rnd)
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.sgraph")
	dst := filepath.Join(dir, "dst.sgraph")
	require.NoError(t, sgraph.Save(src, p))

	cmd := NewConvertCmd()
	cmd.SetArgs([]string{src, dst, "--mode", "stream_internal_state_inference"})
	require.NoError(t, cmd.Execute())

	loaded, err := sgraph.Load(dst)
	require.NoError(t, err)
	require.Equal(t, layers.StreamInternalStateInference,
		loaded.Ops[0].(*layers.Stream).Mode())
}

func TestConvertCommandBadDType(t *testing.T) {
	cmd := NewConvertCmd()
	cmd.SetArgs([]string{"a", "b", "--dtype", "f8"})
	require.Error(t, cmd.Execute())
}
