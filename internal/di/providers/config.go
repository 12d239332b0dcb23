// Package providers contains dependency injection providers for the watch daemon.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/config"
	"github.com/listenupapp/fen/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(_ do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Format:      cfg.Logger.Format,
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting fen",
		"version", version(),
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"backend", cfg.Notifier.Backend,
		"watch_list", cfg.Watches.File,
	)

	return log, nil
}
