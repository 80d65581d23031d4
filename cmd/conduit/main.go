// Package main provides the CLI entry point for the conduit tool runtime.
//
// Conduit plans and executes tool calls for conversational queries: a tool
// registry, a keyword planner, a security gate, and an interpreter sandbox
// wired into a single conversation orchestrator.
//
// # Basic Usage
//
// Start an interactive session:
//
//	conduit repl
//
// Run a single message through the pipeline:
//
//	conduit run "search the web for Go generics"
//
// Inspect the built-in tool catalogue:
//
//	conduit tools list
//	conduit tools search calc
//
// # Configuration
//
// All commands accept --config pointing at a YAML file. Environment
// variable references in the file are expanded before parsing.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/config"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit - agentic tool execution runtime",
		Long: `Conduit plans and executes tool calls for conversational queries.

Every message runs through the same pipeline: security gate, keyword
planner, tool execution (in-process or sandboxed), and a summarised
assistant reply. Conversations can be persisted to SQLite and resumed.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")

	rootCmd.AddCommand(
		buildReplCmd(),
		buildRunCmd(),
		buildToolsCmd(),
		buildExecCmd(),
		buildSnapshotsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// loadConfig resolves the --config flag; no flag means built-in defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
