// Package main provides the CLI entry point for the Parley chat-room agent bot.
//
// Parley connects chat rooms (IRC-style flat channels and threaded platforms)
// to LLM providers with mode-based prompting, a steering queue for rapid
// follow-ups, and proactive interjections.
//
// # Basic Usage
//
// Start the bot:
//
//	parley serve --config parley.yaml
//
// Validate a configuration and inspect resolved modes:
//
//	parley check --config parley.yaml
//
// # Environment Variables
//
//   - PARLEY_CONFIG: Path to configuration file (default: parley.yaml)
//   - OPENAI_API_KEY: OpenAI API key (overrides providers.openai_api_key)
//   - ANTHROPIC_API_KEY: Anthropic API key (overrides providers.anthropic_api_key)
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "parley.yaml"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley - LLM agent bot for chat rooms",
		Long: `Parley connects chat rooms to LLM providers with mode-based prompting.

Messages addressed to the bot are parsed for mode triggers (!s, !a, ...),
@model overrides and the !c no-context modifier; un-prefixed messages go
through an LLM mode classifier. Rapid follow-ups are folded into running
turns via a steering queue, and quiet channels can receive proactive
interjections gated by a validator model cascade.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the PARLEY_CONFIG fallback for unset --config
// flags.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" || path == defaultConfigName {
		if env := strings.TrimSpace(os.Getenv("PARLEY_CONFIG")); env != "" {
			return env
		}
	}
	if strings.TrimSpace(path) == "" {
		return defaultConfigName
	}
	return path
}
