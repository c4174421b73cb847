package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/spf13/cobra"

	"github.com/reuben/kws-streaming/convert"
	"github.com/reuben/kws-streaming/fs/sgraph"
	"github.com/reuben/kws-streaming/layers"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run GRAPH [INPUT]",
		Short: "Stream feature frames from a file or stdin through a graph",
		Long: "Stream feature frames through a graph one step at a time. " +
			"Each input line is one frame of whitespace or comma separated floats.",
		Args: cobra.RangeArgs(1, 2),
		RunE: runHandler,
	}
	cmd.Flags().String("mode", "stream_internal_state_inference", "inference mode")
	return cmd
}

func runHandler(cmd *cobra.Command, args []string) error {
	modeName, _ := cmd.Flags().GetString("mode")
	mode, err := layers.ParseMode(modeName)
	if err != nil {
		return err
	}
	if mode == layers.Training {
		return fmt.Errorf("cannot run a graph in training mode")
	}

	p, err := sgraph.LoadAs(args[0], mode, 1)
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if len(args) == 2 && args[1] != "-" {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	r := convert.NewRunner(p)
	out := cmd.OutOrStdout()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		frame, err := parseFrame(scanner.Text())
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}

		x := tensor.New(tensor.WithShape(1, 1, len(frame)), tensor.WithBacking(frame))
		y, err := r.Step(x)
		if err != nil {
			return err
		}

		fields := make([]string, 0, len(y.Data().([]float32)))
		for _, v := range y.Data().([]float32) {
			fields = append(fields, strconv.FormatFloat(float64(v), 'g', 6, 32))
		}
		fmt.Fprintln(out, strings.Join(fields, " "))
	}
	return scanner.Err()
}

func parseFrame(line string) ([]float32, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	if len(fields) == 0 {
		return nil, nil
	}

	frame := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", f, err)
		}
		frame[i] = float32(v)
	}
	return frame, nil
}
