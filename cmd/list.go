package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/reuben/kws-streaming/envconfig"
	"github.com/reuben/kws-streaming/format"
	"github.com/reuben/kws-streaming/fs/sgraph"
)

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved graphs",
		RunE:    listHandler,
	}
}

func listHandler(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(envconfig.GraphsDir)
	if err != nil {
		return err
	}

	var data [][]string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sgraph") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".sgraph")
		if len(args) > 0 && !strings.HasPrefix(strings.ToLower(name), strings.ToLower(args[0])) {
			continue
		}

		info, err := sgraph.Stat(filepath.Join(envconfig.GraphsDir, e.Name()))
		if err != nil {
			continue
		}
		data = append(data, []string{name, fmt.Sprint(info.Ops), format.HumanBytes(info.Size), info.Modified})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "OPS", "SIZE", "MODIFIED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}
