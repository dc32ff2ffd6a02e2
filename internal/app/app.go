package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"brokle/internal/config"
	httpTransport "brokle/internal/transport/http"
	"brokle/pkg/logging"
)

// App wraps one running instance of the rig controller, in either server or
// worker deployment mode.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	providers    *ProviderContainer
	httpServer   *httpTransport.Server
	mode         DeploymentMode
	shutdownOnce sync.Once
}

// NewServer builds the operator-facing API process: every FAT subsystem
// plus the HTTP route table in front of them.
func NewServer(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	if err := resumeActiveBatches(context.Background(), core); err != nil {
		logger.Warn("failed to resume in-progress batches", "error", err)
	}

	server, err := ProvideServer(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return &App{
		mode:       ModeServer,
		config:     cfg,
		logger:     logger,
		httpServer: server,
		providers: &ProviderContainer{
			Core:   core,
			Server: server,
			Mode:   ModeServer,
		},
	}, nil
}

// NewWorker builds the background process: the same FAT subsystems as the
// server, minus the HTTP surface, resuming any batch still in progress.
func NewWorker(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	return &App{
		mode:   ModeWorker,
		config: cfg,
		logger: logger,
		providers: &ProviderContainer{
			Core: core,
			Mode: ModeWorker,
		},
	}, nil
}

// Start brings the process's subsystems online. It returns once startup
// succeeds or fails; in server mode the HTTP listener then runs in the
// background, surfacing any later failure on httpServer.ServeErr().
func (a *App) Start() error {
	a.logger.Info("starting FAT rig controller", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}

		go func() {
			if err := <-a.httpServer.ServeErr(); err != nil {
				a.logger.Error("http server failed unexpectedly", "error", err)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = a.Shutdown(ctx)
				os.Exit(1)
			}
		}()

	case ModeWorker:
		if err := resumeActiveBatches(context.Background(), a.providers.Core); err != nil {
			a.logger.Error("failed to resume in-progress batches", "error", err)
			return err
		}
	}

	a.logger.Info("FAT rig controller started")
	return nil
}

// Shutdown gracefully tears down every subsystem. Safe to call more than
// once; only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})

	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down FAT rig controller", "mode", a.mode)

	done := make(chan struct{})
	go func() {
		if a.mode == ModeServer && a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logger.Error("failed to shutdown http server", "error", err)
			}
		}

		if a.providers != nil {
			if err := a.providers.Shutdown(); err != nil {
				a.logger.Error("failed to shutdown providers", "error", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("FAT rig controller shutdown complete")
		return nil
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout exceeded, forcing exit")
		return ctx.Err()
	}
}

// GetProviders returns the provider container for access to every wired
// dependency.
func (a *App) GetProviders() *ProviderContainer {
	return a.providers
}

// Health returns the health status of every wired dependency.
func (a *App) Health() map[string]string {
	if a.providers != nil {
		return a.providers.HealthCheck()
	}
	return map[string]string{"status": "providers not initialized"}
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetCore returns the shared dependency container.
func (a *App) GetCore() *CoreContainer {
	if a.providers == nil {
		return nil
	}
	return a.providers.Core
}
