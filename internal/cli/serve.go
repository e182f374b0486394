package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/nocap/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification HTTP API",
	Long: `Serve the verification API:
  POST /v1/verify                 verify a claim
  POST /v1/ingest                 add reference text to an index
  GET  /v1/sessions/{id}/history  past verdicts of a session
  GET  /healthz                   store and index status

Example:
  nocap serve --addr :8000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	srv := server.New(a.verifier, a.store, a.engine, a.logger, a.cfg.Server.RequestTimeout)
	if err := srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
