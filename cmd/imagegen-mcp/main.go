package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// exitError carries a process exit code out of a RunE.
type exitError struct {
	Code    int
	Message string
}

func (e *exitError) Error() string { return e.Message }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imagegen-mcp",
		Short: "MCP server for image generation and transforms",
		Long: "imagegen-mcp serves generate_image, resize_image, convert_image_format and\n" +
			"get_image_info over MCP (JSON-RPC 2.0 on stdin/stdout). Run without a\n" +
			"subcommand to start the server.",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.PersistentFlags().String("config", "", "Path to a TOML or YAML config file")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imagegen-mcp %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
