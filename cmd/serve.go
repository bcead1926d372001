package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/api"
	"github.com/fakeyudi/lokseva/internal/logging"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the client headless behind a local HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return err
		}
		defer closer.Close()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		addr := cfg.APIAddr
		if flagAddr != "" {
			addr = flagAddr
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		appCtx, stopApp := context.WithCancel(ctx)
		go a.Run(appCtx)
		defer func() {
			stopApp()
			<-a.Done()
		}()

		err = api.NewServer(addr, a, logger).Start(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides api_addr)")
	rootCmd.AddCommand(serveCmd)
}
