package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/layers"
	"github.com/reuben/kws-streaming/model"
)

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Rewrite a graph file, changing its mode or weight encoding",
		Args:  cobra.ExactArgs(2),
		RunE:  convertHandler,
	}
	cmd.Flags().String("mode", "", "target mode (default: keep the saved mode)")
	cmd.Flags().String("dtype", "f32", "weight encoding: f32, f16 or bf16")
	return cmd
}

func convertHandler(cmd *cobra.Command, args []string) error {
	dtype, _ := cmd.Flags().GetString("dtype")

	var dt sgraph.DType
	switch dtype {
	case "f32":
		dt = sgraph.F32
	case "f16":
		dt = sgraph.F16
	case "bf16":
		dt = sgraph.BF16
	default:
		return fmt.Errorf("unknown dtype %q", dtype)
	}

	var p *model.Pipeline
	var err error
	if modeName, _ := cmd.Flags().GetString("mode"); modeName != "" {
		var mode layers.Mode
		if mode, err = layers.ParseMode(modeName); err != nil {
			return err
		}
		p, err = sgraph.LoadAs(args[0], mode, 1)
	} else {
		p, err = sgraph.Load(args[0])
	}
	if err != nil {
		return err
	}

	return sgraph.Save(args[1], p, sgraph.WithDType(dt))
}
