// Package cmd implements the kws command line interface.
package cmd

import (
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/reuben/kws-streaming/envconfig"
	"github.com/reuben/kws-streaming/logutil"
	"github.com/reuben/kws-streaming/server"
	"github.com/reuben/kws-streaming/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "kws",
		Short:   "Streaming keyword spotting graph runner",
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			logutil.Setup(envconfig.Debug)
		},
	}

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewServeCmd(),
		NewListCmd(),
		NewConvertCmd(),
		NewRunCmd(),
	)

	return rootCmd
}

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(envconfig.GraphsDir, 0o755); err != nil {
				return err
			}

			ln, err := net.Listen("tcp", envconfig.Host)
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context(), ln)
		},
	}
}
