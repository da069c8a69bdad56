// Package commands implements the scingest subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/internal/api"
	"github.com/atlasmap-sc/ingest/internal/config"
	"github.com/atlasmap-sc/ingest/internal/configurer"
	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/logging"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/service"
	"github.com/atlasmap-sc/ingest/internal/staging"
	"github.com/atlasmap-sc/ingest/internal/transform"
	"github.com/atlasmap-sc/ingest/internal/workpool"
)

// AppContext holds what every command needs.
type AppContext struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Runner     *transform.ScriptRunner
	Configurer *configurer.Configurer

	closers []func()
}

// NewAppContext loads the configuration named by the --config flag,
// installs the logger and builds the loader configurer.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	app := &AppContext{Config: cfg, Logger: logger, Metrics: metrics.New()}
	app.Runner = newRunner(cfg.Transform)

	pool := workpool.New(cfg.Transform.Workers)
	app.closers = append(app.closers, pool.Stop)

	stager, err := staging.New(ctx, staging.Config{
		Region:          cfg.Staging.Region,
		Endpoint:        cfg.Staging.Endpoint,
		AccessKeyID:     cfg.Staging.AccessKeyID,
		SecretAccessKey: cfg.Staging.SecretAccessKey,
		PathStyle:       cfg.Staging.PathStyle,
		ScratchDir:      cfg.Transform.ScratchDir,
	}, app.Metrics)
	if err != nil {
		// Local paths still load without object storage.
		logger.Warn("s3 staging disabled", "error", err)
		stager = nil
	}

	app.Configurer = &configurer.Configurer{
		Runner:           app.Runner,
		Opener:           h5.OpenFile,
		ScratchDir:       cfg.Transform.ScratchDir,
		Pool:             pool,
		Stager:           stager,
		Metrics:          app.Metrics,
		MatcherCacheSize: cfg.Transform.MatcherCacheSize,
	}
	return app, nil
}

func newRunner(cfg config.TransformConfig) *transform.ScriptRunner {
	programs := make(map[transform.Purpose]string, len(cfg.Programs))
	for name, prog := range cfg.Programs {
		p, err := transform.ParsePurpose(name)
		if err != nil {
			slog.Warn("ignoring program of unknown purpose", "purpose", name)
			continue
		}
		programs[p] = prog
	}
	return &transform.ScriptRunner{
		Python:     cfg.Python,
		ScriptsDir: cfg.ScriptsDir,
		Programs:   programs,
		Timeout:    cfg.Timeout(),
	}
}

// Registry builds the dataset registry from the configuration.
func (ac *AppContext) Registry() (*api.DatasetRegistry, error) {
	registry := api.NewDatasetRegistry()
	var errs []error
	for _, id := range ac.Config.Datasets.IDs() {
		ds := ac.Config.Datasets.Get(id)
		opts, err := ds.Options()
		if err != nil {
			errs = append(errs, fmt.Errorf("dataset %s: %w", id, err))
			continue
		}
		registry.Register(&service.Dataset{
			ID:          id,
			Name:        ds.Name,
			Description: ds.Description,
			Options:     opts,
			Samples:     ds.Samples,
		})
	}
	return registry, errors.Join(errs...)
}

// Close releases the resources of the context.
func (ac *AppContext) Close() {
	for i := len(ac.closers) - 1; i >= 0; i-- {
		ac.closers[i]()
	}
}
