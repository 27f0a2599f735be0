package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/auth"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Start the memory core and the HTTP gateway. The server shuts down
gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	svcs, err := buildServices()
	if err != nil {
		return err
	}
	defer svcs.core.Close()
	defer svcs.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       svcs.cfg.Observability.OTLPEndpoint,
		Insecure:       svcs.cfg.Observability.OTLPInsecure,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	if err := svcs.core.Startup(ctx); err != nil {
		return err
	}

	authSvc := auth.NewService(svcs.cfg.Security, svcs.logger)
	server := httpapi.NewServer(svcs.cfg, svcs.core, authSvc, svcs.logger)

	svcs.logger.Info("memoryd starting",
		zap.String("environment", svcs.cfg.Environment),
		zap.Int("port", svcs.cfg.Server.Port))
	return server.Start(ctx)
}
