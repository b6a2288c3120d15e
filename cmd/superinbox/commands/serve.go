package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guchang/superinbox-sub005/server"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd starts the HTTP/WebSocket server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SuperInbox server",
	Long: `Start the HTTP/WebSocket server: item capture, routing rules,
manual dispatch, and the live routing progress stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := BuildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		srv := server.New(app.DB, app.Registry, app.Orchestrator, app.Log)

		port := app.Config.Server.Port
		if p, _ := cmd.Flags().GetInt("port"); p > 0 {
			port = p
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(app.Config.Server.Host, port)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			app.Log.Infow("Shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func init() {
	ServeCmd.Flags().Int("port", 0, "Override the configured server port")
}
