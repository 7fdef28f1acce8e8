// Package app wires configuration into the engine, its stores and the
// HTTP server. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andresuchdata/mixopt/internal/api"
	"github.com/andresuchdata/mixopt/internal/cache"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/engine"
	"github.com/andresuchdata/mixopt/internal/pipeline"
	"github.com/andresuchdata/mixopt/internal/repository"
	"github.com/andresuchdata/mixopt/internal/repository/postgres"
	"github.com/andresuchdata/mixopt/internal/service"
	"github.com/andresuchdata/mixopt/internal/solver"
	"github.com/andresuchdata/mixopt/internal/source"
	"github.com/andresuchdata/mixopt/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config  *config.Config
	Store   storage.ObjectStorage // nil unless storage is enabled
	DB      *postgres.DB          // nil unless the database is enabled
	Engine  *engine.Engine
	Service *service.OptimizationService

	closers []func() error
}

// New builds the application for cfg. Optional backends (storage,
// database, cache) are only contacted when enabled.
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Storage.Enabled {
		store, err := storage.NewMinioClient(storage.ConfigFrom(cfg))
		if err != nil {
			return nil, err
		}
		a.Store = store
	}

	loader, closeLoader, err := source.New(cfg, a.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLoader)

	var repo repository.RunRepository = repository.NewMemoryRunRepository()
	if cfg.Database.Enabled {
		db, err := postgres.NewDB(&cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		repo = postgres.NewRunRepository(db)
	}

	resultCache, err := cache.NewResultCache(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("app: result cache unavailable, continuing without it")
		resultCache = cache.NewNoopResultCache()
	}

	a.Engine = engine.New(loader, solver.NewSimplex(), engine.OptionsFromConfig(cfg))
	a.Service = service.NewOptimizationService(a.Engine, repo, resultCache)
	if a.Store != nil {
		a.Service.WithReports(a.Store, cfg.Storage.ReportPrefix, cfg.Output.Decimals)
	}

	log.Info().
		Str("inputs", cfg.Inputs.Source).
		Bool("database", cfg.Database.Enabled).
		Bool("cache", cfg.Cache.Enabled).
		Bool("storage", cfg.Storage.Enabled).
		Msg("app: initialized")
	return a, nil
}

// Orchestrator runs batches straight on the engine, bypassing the result
// cache and the run store.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(a.Engine, a.Engine, pipeline.ConfigFrom(a.Config))
}

func (a *App) Router() *gin.Engine {
	if a.Config.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(&api.Services{OptimizationService: a.Service}, a.Config.Server.AllowedOrigins)
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config.Server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server exiting")
	return nil
}

// Close releases database connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
