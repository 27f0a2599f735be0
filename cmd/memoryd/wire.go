package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/normalize"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// services bundles everything a gateway needs.
type services struct {
	cfg    *config.Config
	core   *memory.Core
	logger *zap.Logger
}

// buildServices loads configuration and wires the clients and the core.
func buildServices() (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := vectorstore.NewClient(cfg.Services.QdrantURL, cfg.Services.QdrantAPIKey)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	embedder, err := embeddings.NewTEIClient(cfg.Services.TEIBaseURL, logger)
	if err != nil {
		return nil, err
	}

	// The per-tenant write policy decides at request time whether the LLM
	// runs, so the client is always constructed when credentials exist.
	var normalizer normalize.Normalizer = normalize.Passthrough{}
	if cfg.Services.OpenRouterAPIKey != "" {
		client, err := normalize.NewClient(
			cfg.Services.OpenRouterBaseURL,
			cfg.Services.OpenRouterAPIKey,
			cfg.Core.Model,
			logger,
		)
		if err != nil {
			return nil, err
		}
		normalizer = client
	}

	factory := func(collection string, vectorSize int) (memory.Repository, error) {
		return vectorstore.NewQdrantRepository(qdrantClient, vectorstore.Config{
			CollectionName: collection,
			VectorSize:     vectorSize,
		})
	}

	core, err := memory.NewCore(cfg, embedder, normalizer, factory, logger,
		closerFunc(qdrantClient.Close))
	if err != nil {
		return nil, err
	}

	return &services{cfg: cfg, core: core, logger: logger}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var _ io.Closer = closerFunc(nil)
