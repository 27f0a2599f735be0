package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var bootstrapTimeout time.Duration

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the Qdrant collection and payload indexes",
	Long: `Idempotently create the configured collection with cosine distance
and on-disk payload, plus the payload indexes the tenancy filters rely
on. Safe to run repeatedly, including against a live collection.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().DurationVar(&bootstrapTimeout, "timeout", 30*time.Second,
		"overall deadline for the bootstrap")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	client, err := vectorstore.NewClient(cfg.Services.QdrantURL, cfg.Services.QdrantAPIKey)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer client.Close()

	repo, err := vectorstore.NewQdrantRepository(client, vectorstore.Config{
		CollectionName: cfg.Core.Collection.Name,
		VectorSize:     cfg.Core.Collection.VectorSize,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	if err := repo.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("bootstrapping collection %s: %w", cfg.Core.Collection.Name, err)
	}

	logger.Info("collection ready",
		zap.String("collection", cfg.Core.Collection.Name),
		zap.Int("vector_size", cfg.Core.Collection.VectorSize))
	return nil
}
