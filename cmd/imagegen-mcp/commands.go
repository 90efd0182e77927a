package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/imagegen-mcp/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdin/stdout (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	a.logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("commit", GitCommit).
		Msg("imagegen-mcp server starting")

	srv := server.New(a.dispatcher, a.logger, a.cfg.Workers, Version)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one image and print the result",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
	cmd.Flags().String("prompt", "", "Text description of the image")
	cmd.Flags().String("size", "", "Image size, e.g. 1024x1024")
	cmd.Flags().String("provider", "", "Generation provider")
	cmd.Flags().String("output", "", "Output file name")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	args := map[string]any{}
	for flag, param := range map[string]string{
		"prompt":   "prompt",
		"size":     "size",
		"provider": "provider",
		"output":   "output_filename",
	} {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetString(flag)
			args[param] = v
		}
	}
	return dispatchAndPrint(cmd, server.ToolGenerateImage, args)
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke one tool with JSON arguments and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			raw, _ := cmd.Flags().GetString("args")
			args := map[string]any{}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}
			return dispatchAndPrint(cmd, positional[0], args)
		},
	}
	cmd.Flags().String("args", "{}", "Tool arguments as a JSON object")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.dispatcher.Tools())
		},
	}
}

// dispatchAndPrint runs one tool and prints its result or error envelope.
// A failed call exits with status 1.
func dispatchAndPrint(cmd *cobra.Command, tool string, args map[string]any) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	res := a.dispatcher.Dispatch(cmd.Context(), tool, args)
	if err := printJSON(cmd.OutOrStdout(), res.JSON()); err != nil {
		return err
	}
	if !res.OK() {
		return &exitError{Code: 1, Message: res.Error.Message}
	}
	return nil
}

func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
