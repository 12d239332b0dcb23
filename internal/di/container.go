// Package di provides dependency injection configuration for the watch daemon.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/config"
	"github.com/listenupapp/fen/internal/di/providers"
	"github.com/listenupapp/fen/internal/logger"
	"github.com/listenupapp/fen/internal/metrics"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideMetrics)

	// Watching
	do.Provide(injector, providers.ProvideEventStream)
	do.Provide(injector, providers.ProvideRegistry)
	do.Provide(injector, providers.ProvideWatchList)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideAdvertiser)

	return injector
}

// Bootstrap initializes all services.
// This triggers lazy initialization of every provider.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*metrics.Metrics](injector)

	if _, err := do.Invoke[*providers.EventStreamHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.RegistryHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.WatchListHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.AdvertiserHandle](injector); err != nil {
		return err
	}

	return nil
}
