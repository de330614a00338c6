// Package main is the CLI entry point for the fodi assistant, the
// conversational core of the business-management platform.
//
// Start the server:
//
//	fodi-assistant serve --config assistant.yaml
//
// Run a one-shot local turn:
//
//	fodi-assistant chat "create a task to call the supplier tomorrow"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fodi-assistant",
		Short:         "Conversational assistant core for the fodi platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildChatCmd(), buildVersionCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		role       string
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a single turn locally and print the streamed response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, role, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "admin", "Role to run the turn as")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fodi-assistant %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
