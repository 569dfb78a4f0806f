package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schedsync/config"
	"schedsync/internal/bootstrap"
	"schedsync/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional, real deployments use environment variables
	if err := godotenv.Load(); err == nil {
		logger.L().Debug().Msg("loaded .env file")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "worker":
		runWorker(cfg)
	case "all":
		go runWorker(cfg)
		runAPI(cfg)
	default:
		logger.L().Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize API")
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.L().Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- app.Shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.L().Error().Err(err).Msg("error shutting down")
			} else {
				logger.L().Info().Msg("API server shut down gracefully")
			}
		case <-ctx.Done():
			logger.L().Warn().Msg("API shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.L().Info().Str("addr", addr).Msg("starting API server")
	if err := app.Listen(addr); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to start server")
	}
}

func runWorker(cfg *config.Config) {
	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize worker")
	}
	defer cleanup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.L().Info().Dur("timeout", shutdownTimeout).Msg("shutting down worker")

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.L().Info().Msg("worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.L().Warn().Msg("worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.L().Info().Msg("starting worker")
	w.Start()
}
