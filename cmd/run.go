package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/logging"
	"github.com/fakeyudi/lokseva/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the interactive client (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd)
	},
}

// runTUI starts the client loop and the terminal UI on top of it.
func runTUI(cmd *cobra.Command) error {
	if !term.IsTerminal(os.Stdout.Fd()) {
		return errors.New("the interactive client needs a terminal; use 'lokseva serve' for headless mode")
	}

	logPath := cfg.LogFile
	if logPath == "" {
		p, err := logging.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving log path: %w", err)
		}
		logPath = p
	}
	logger, closer, err := logging.Setup(cfg.LogLevel, logPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	appCtx, stopApp := context.WithCancel(ctx)
	go a.Run(appCtx)
	defer func() {
		stopApp()
		<-a.Done()
	}()

	logger.Info("client started", "room", cfg.Room, "transport", cfg.Transport)
	return tui.Run(ctx, a)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
