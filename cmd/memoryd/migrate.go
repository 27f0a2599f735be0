package main

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var (
	migrateFrom      string
	migrateTo        string
	migrateBatchSize int
	migrateDryRun    bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy all points from one collection to another",
	Long: `Scroll every point of the source collection, vectors and payload
included, and upsert them into the target collection. The target is
created with the configured vector size and indexes if absent. Point ids
are preserved, so re-running after an interruption is safe.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source collection (required)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target collection (required)")
	migrateCmd.Flags().IntVar(&migrateBatchSize, "batch", 256, "points per scroll page")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "count points without writing")
	_ = migrateCmd.MarkFlagRequired("from")
	_ = migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if !migrateDryRun {
		target, err := vectorstore.NewQdrantRepository(client, vectorstore.Config{
			CollectionName: migrateTo,
			VectorSize:     cfg.Core.Collection.VectorSize,
		})
		if err != nil {
			return err
		}
		if err := target.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("preparing target collection %s: %w", migrateTo, err)
		}
	}

	migrated := 0
	var offset *qdrant.PointId
	for {
		points, nextOffset, err := client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: migrateFrom,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(migrateBatchSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return fmt.Errorf("scrolling %s: %w", migrateFrom, err)
		}
		if len(points) == 0 {
			break
		}

		if !migrateDryRun {
			batch := make([]*qdrant.PointStruct, 0, len(points))
			for _, point := range points {
				data := point.GetVectors().GetVector().GetData()
				if len(data) == 0 {
					logger.Warn("skipping point without vector")
					continue
				}
				batch = append(batch, &qdrant.PointStruct{
					Id:      point.GetId(),
					Vectors: qdrant.NewVectors(data...),
					Payload: point.GetPayload(),
				})
			}
			if _, err := client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: migrateTo,
				Points:         batch,
			}); err != nil {
				return fmt.Errorf("upserting into %s: %w", migrateTo, err)
			}
		}

		migrated += len(points)
		logger.Info("batch migrated", zap.Int("total", migrated))

		if nextOffset == nil {
			break
		}
		offset = nextOffset
	}

	if migrateDryRun {
		logger.Info("dry run complete", zap.Int("points", migrated))
	} else {
		logger.Info("migration complete",
			zap.String("from", migrateFrom),
			zap.String("to", migrateTo),
			zap.Int("points", migrated))
	}
	return nil
}
