package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/config"
	"github.com/bibmerge/bibmerge/internal/di"
)

// globalOptions holds flags shared by every command.
type globalOptions struct {
	flags   config.Flags
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "bibmerge",
		Short: "Deduplicate bibliographic records from many sources",
		Long: `bibmerge stores bibliographic records harvested from many sources, links
records that describe the same work into clusters, and keeps a search index
with one merged document per cluster.

Settings are read from flags, then the environment, then a .env file, then
built-in defaults. Per-source settings live in a YAML file (--datasources).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			if opts.verbose {
				opts.flags.LogLevel = "debug"
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load")
	pf.StringVar(&opts.flags.Env, "env", "", "environment: development, staging or production")
	pf.StringVar(&opts.flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&opts.flags.DataPath, "data-path", "", "directory for the database, search index and keys (default ~/.bibmerge)")
	pf.StringVar(&opts.flags.StoreBackend, "store", "", "record store backend: sqlite or badger")
	pf.StringVar(&opts.flags.DataSourcesFile, "datasources", "", "data source settings file (default <data-path>/datasources.yaml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "shorthand for --log-level debug")

	cmd.AddCommand(
		newImportCmd(opts),
		newRenormalizeCmd(opts),
		newDeduplicateCmd(opts),
		newUpdateIndexCmd(opts),
		newSearchCmd(opts),
		newDumpCmd(opts),
		newCountCmd(opts),
		newDeleteSourceCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
	)

	return cmd
}

// withContainer runs fn with a fresh container and shuts the container down
// afterwards, closing whatever fn opened.
func withContainer(ctx context.Context, opts *globalOptions, fn func(ctx context.Context, i do.Injector) error) error {
	injector := di.NewContainer(opts.flags)
	defer func() { _ = injector.Shutdown() }()

	return fn(ctx, injector)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
