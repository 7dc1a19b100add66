package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// app is the wired pipeline shared by every transport.
type app struct {
	store    *archive.Store
	registry archive.Registry
	orch     *pipeline.Orchestrator
}

func (c *cli) buildApp(ctx context.Context) (*app, error) {
	cfg := c.cfg
	logger := c.logger

	store, err := archive.NewStore(cfg.Archive.Dir, cfg.Archive.TTL, logger)
	if err != nil {
		return nil, err
	}

	services, err := inference.NewServices(cfg.Inference, logger)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	anchorOpts, err := cfg.AnchorOptions()
	if err != nil {
		return nil, err
	}

	registry := archive.OpenRegistry(ctx, cfg.Redis, logger)

	orch, err := pipeline.New(cfg.PipelineConfig(), pipeline.Deps{
		Services:   services,
		Decomposer: layers.New(cfg.Decompose, logger.Named("layers")),
		Anchor:     anchorOpts,
		Exporter:   archive.NewExporter(store, cfg.Archive.ThumbnailSize, logger.Named("archive")),
		Registry:   registry,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	logger.Debug("pipeline ready",
		zap.String("inference", cfg.Inference.Mode),
		zap.String("archive_dir", store.Dir()))

	return &app{store: store, registry: registry, orch: orch}, nil
}

func (a *app) Close() error {
	return a.registry.Close()
}
