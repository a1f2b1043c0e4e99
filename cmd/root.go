package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/config"
)

var (
	verbose    bool
	configPath string
	dataDir    string
	backend    string
	hubURL     string
	logFile    string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"

	cfg        config.Config
	closeLogFn func() error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Local-first branching chat history",
	Long: `chatsync keeps branching chat conversations on disk and in sync between
every process that opens the same data directory.

Features:
  • Branching conversations: edit or regenerate any message, switch versions
  • Chat groups with settings that chats inherit
  • Streaming generation through OpenAI, Anthropic, Ollama or a local echo model
  • Live sync across processes through a small WebSocket hub
  • File, SQLite or in-memory storage

Quick Start:
  chatsync new --sample                  # Create a demo chat
  chatsync list                          # Show the sidebar
  chatsync send <chat-id> "Hello"        # Ask the configured model
  chatsync hub & chatsync watch          # Follow changes live`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogFn == nil {
			return nil
		}
		err := closeLogFn()
		closeLogFn = nil
		return err
	},
}

// setup loads the config file, applies flag overrides and configures logging.
func setup(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		loaded.DataDir = config.ExpandHome(dataDir)
	}
	if flags.Changed("backend") {
		loaded.Backend = backend
	}
	if flags.Changed("hub") {
		loaded.HubURL = hubURL
	}
	if flags.Changed("log-file") {
		loaded.LogFile = config.ExpandHome(logFile)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	level, _ := internal.ParseLogLevel(cfg.LogLevel)
	internal.SetLogLevel(level)
	if verbose {
		internal.SetVerbose(true)
	}
	if cfg.LogFile != "" && closeLogFn == nil {
		closeLogFn, err = internal.SetLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&configPath, "config", "", "Config file (default ~/.chatsync/config.yaml)")
	flags.StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	flags.StringVar(&backend, "backend", "", "Storage backend: file, sqlite or memory")
	flags.StringVar(&hubURL, "hub", "", "Sync hub URL, e.g. ws://127.0.0.1:7878/ws")
	flags.StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
