package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure lokseva (re-run anytime to edit settings)",
	// Bypass the normal PersistentPreRunE so setup works before config exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, false)
	},
}

// runSetup runs the interactive setup wizard and saves the global config.
// If firstRun is true, a welcome message is shown.
func runSetup(cmd *cobra.Command, firstRun bool) error {
	out := cmd.OutOrStdout()
	if firstRun {
		fmt.Fprintln(out, "  Let's get you set up.")
	}

	// Existing global config seeds the prompts.
	existing, err := config.LoadGlobal()
	if err != nil {
		existing = nil
	}

	c, err := config.RunSetup(cmd.InOrStdin(), out, existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	if err := config.SaveGlobal(c); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintln(out, "  ✓ Config saved.")
	fmt.Fprintln(out, "  Setup complete. Run 'lokseva' to start a conversation.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
