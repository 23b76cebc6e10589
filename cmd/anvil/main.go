package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"anvil/internal/infra/config"
)

var (
	// Global flags
	configPath string
	modelFlag  string
	verbose    bool
)

// rootCmd runs the interactive terminal when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "anvil - terminal chat harness for coding agents",
	Long: `anvil is a terminal chat harness. It streams answers from an
OpenAI-compatible backend, runs tools, keeps sessions in sqlite and expands
slash commands from skill files.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $ANVIL_CONFIG or ~/.anvil/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model to start with")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "anvil: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: flag, then ANVIL_CONFIG, then the
// data directory.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("ANVIL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(config.DefaultDataDir(), "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	return cfg, nil
}
