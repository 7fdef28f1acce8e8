package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresuchdata/mixopt/internal/app"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Serve(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Server stopped")
		a.Close()
		os.Exit(1)
	}
}
