// Package di provides dependency injection configuration for bibmerge.
package di

import (
	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/di/providers"
)

// NewContainer creates and configures the DI container with all providers.
// Providers are lazy: a command only opens what it invokes.
func NewContainer(flags config.Flags) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, flags)

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideDataSources)
	do.Provide(injector, providers.ProvideParser)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideIndexUpdater)

	// Auth layer
	do.Provide(injector, providers.ProvideAuthKey)
	do.Provide(injector, providers.ProvideTokenService)

	// Business services
	do.Provide(injector, providers.ProvideRecordService)
	do.Provide(injector, providers.ProvideLinker)
	do.Provide(injector, providers.ProvideDeduplicator)
	do.Provide(injector, providers.ProvideDedupRunner)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}
