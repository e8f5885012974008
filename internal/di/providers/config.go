// Package providers contains dependency injection providers for bibmerge.
package providers

import (
	"os"

	"github.com/samber/do/v2"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/metadata"
)

// ProvideConfig provides the application configuration built from the
// command-line flags registered in the container.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	flags := do.MustInvoke[config.Flags](i)
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Data.BasePath, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development" && cfg.Logger.Level == "debug",
		Environment: cfg.App.Environment,
		NoColor:     cfg.Logger.NoColor,
	})

	log.Debug("Configuration loaded",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_path", cfg.Data.BasePath,
		"store", cfg.Data.StoreBackend,
	)

	return log, nil
}

// ProvideDataSources provides the per-source settings.
func ProvideDataSources(i do.Injector) (*config.DataSources, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	sources, err := config.LoadDataSources(cfg.Data.DataSourcesFile)
	if err != nil {
		return nil, err
	}

	log.Debug("Data sources loaded",
		"file", cfg.Data.DataSourcesFile,
		"sources", sources.IDs(),
		"dedup", sources.WithDedup(),
	)
	return sources, nil
}

// ProvideParser provides the metadata parser registry.
func ProvideParser(_ do.Injector) (*metadata.Registry, error) {
	return metadata.Default(), nil
}
