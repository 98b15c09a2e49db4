package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Parley bot",
		Long: `Run the Parley bot with all configured rooms.

The bot will:
1. Load configuration from the specified file (or parley.yaml)
2. Open the conversation history database
3. Initialize LLM provider clients
4. Build a command handler per configured room
5. Expose Prometheus metrics when metrics.addr is set

Graceful shutdown is handled on SIGINT/SIGTERM signals.

With --console, a line-based console on stdin feeds commands into one room
for local testing: every line is handled as an addressed message from
--nick on --channel.`,
		Example: `  # Start with default config
  parley serve

  # Local testing loop against the "irc" room
  parley serve --console --room irc --nick operator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = resolveConfigPath(opts.configPath)
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	cmd.Flags().BoolVar(&opts.console, "console", false,
		"Read commands from stdin for local testing")
	cmd.Flags().StringVar(&opts.room, "room", "",
		"Room the console feeds into (default: first configured room)")
	cmd.Flags().StringVar(&opts.channel, "channel", "#console",
		"Channel name for console messages")
	cmd.Flags().StringVar(&opts.nick, "nick", "operator",
		"Sender nick for console messages")
	cmd.Flags().StringVar(&opts.mynick, "mynick", "parley",
		"The bot's own nick")
	return cmd
}

// buildCheckCmd creates the "check" command that validates configuration.
func buildCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print resolved modes",
		Long: `Validate the configuration file and print each room's resolved
command setup: modes with their triggers and models, channel policies, and
proactive interjection channels.

Exits non-zero when any room's config fails validation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runCheck(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	return cmd
}
