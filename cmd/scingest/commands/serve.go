package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/internal/api"
	"github.com/atlasmap-sc/ingest/internal/cache"
	"github.com/atlasmap-sc/ingest/internal/render"
	"github.com/atlasmap-sc/ingest/internal/service"
	"github.com/atlasmap-sc/ingest/internal/store"
)

// ServeAction runs the HTTP API and the run queue until ctx is cancelled.
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.Config
	log := app.Logger

	if port := cmd.Int("port"); port > 0 {
		cfg.Server.Port = int(port)
	}

	registry, err := app.Registry()
	if err != nil {
		return err
	}
	log.Info("datasets configured", "count", len(registry.DatasetIDs()))

	st, err := store.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		StripCacheSizeMB: cfg.Cache.StripSizeMB,
		StripTTL:         cfg.Cache.StripTTL(),
		QueryCacheSize:   cfg.Cache.QuerySize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	renderer := render.NewStripRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		BandHeight:      cfg.Render.BandHeight,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	runs := api.NewRunManager(api.RunManagerConfig{
		MaxConcurrent: cfg.Store.MaxConcurrent,
		RetentionDays: cfg.Store.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	}, st, app.Metrics)
	ingest := service.NewIngestService(registry, app.Configurer, app.Metrics)
	ingest.BatchSize = cfg.Store.BatchSize
	runs.Executor = ingest.ExecuteRun
	runs.Start()
	defer runs.Stop()
	log.Info("run manager started", "max_concurrent", cfg.Store.MaxConcurrent, "retention_days", cfg.Store.RetentionDays, "sqlite", cfg.Store.SQLitePath)

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		RunManager:  runs,
		Strips:      service.NewStripService(st, cacheManager, renderer),
		Cache:       cacheManager,
		Metrics:     app.Metrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
