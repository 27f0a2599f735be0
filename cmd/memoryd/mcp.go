package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/fyrsmithlabs/memoryd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP gateway on stdio",
	Long: `Expose the memory operations as Model Context Protocol tools over
stdin/stdout, for use as a local agent tool server.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	svcs, err := buildServices()
	if err != nil {
		return err
	}
	defer svcs.core.Close()
	defer svcs.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svcs.core.Startup(ctx); err != nil {
		return err
	}

	cfg := mcpserver.DefaultConfig()
	cfg.Version = version
	cfg.Logger = svcs.logger

	server, err := mcpserver.NewServer(cfg, svcs.core)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
