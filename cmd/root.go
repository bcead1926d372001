package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/config"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	flagRoom     string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "lokseva",
	Short:        "Talk to the LokSeva government-services assistant",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// First run: no global config yet → run the setup wizard, but only
		// when stdin is an interactive terminal.
		if path, err := config.GlobalPath(); err == nil {
			if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) && term.IsTerminal(os.Stdin.Fd()) {
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to LokSeva! Looks like this is your first time.")
				if err := runSetup(cmd, true); err != nil {
					return err
				}
			}
		}
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd)
	},
}

// loadConfig merges global, project and environment configuration, then
// applies command-line overrides.
func loadConfig() error {
	global, err := config.LoadGlobal()
	if err != nil {
		return fmt.Errorf("loading global config: %w", err)
	}
	project, err := config.LoadProject()
	if err != nil {
		return fmt.Errorf("loading project config: %w", err)
	}
	cfg = config.ApplyEnv(config.Merge(global, project))
	if flagRoom != "" {
		cfg.Room = flagRoom
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return nil
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoom, "room", "", "room to join (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
}
