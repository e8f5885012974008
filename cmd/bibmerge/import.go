package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/dedup"
	"github.com/bibmerge/bibmerge/internal/di/providers"
	"github.com/bibmerge/bibmerge/internal/logger"
	"github.com/bibmerge/bibmerge/internal/service"
	"github.com/bibmerge/bibmerge/internal/watcher"
)

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID   string
		watchDir   string
		dedupAfter bool
		settle     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import --source SOURCE [FILE...]",
		Short: "Load records from JSON lines or parquet files",
		Long: `Loads records into the store for one data source. Each input row carries
"id", "oai_id", "deleted" and "data" (the record in the source's format).
Records whose data did not change since the last import are skipped.

With --watch the command keeps running and imports every .jsonl, .json or
.parquet file dropped into the directory, renaming it to *.done afterwards
(*.failed when the file could not be read).`,
		Example: `  # Import two files
  bibmerge import --source helmet part1.jsonl part2.parquet

  # Import and deduplicate every file dropped into a directory
  bibmerge import --source helmet --watch /srv/drop --dedup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceID == "" {
				return errors.New("--source is required")
			}
			if watchDir == "" && len(args) == 0 {
				return errors.New("give at least one file or --watch DIR")
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				log := do.MustInvoke[*logger.Logger](i)
				records, err := do.Invoke[*service.RecordService](i)
				if err != nil {
					return err
				}

				var runner *dedup.Runner
				if dedupAfter {
					handle, err := do.Invoke[*providers.DedupRunnerHandle](i)
					if err != nil {
						return err
					}
					runner = handle.Runner
				}

				importFile := func(ctx context.Context, path string) error {
					res, err := records.Import(ctx, sourceID, service.ReadImportFile(path))
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d imported, %d unchanged, %d deleted, %d failed\n",
						path, res.Imported, res.Unchanged, res.Deleted, res.Failed)
					if err != nil {
						return err
					}
					if runner != nil && res.Imported > 0 {
						run, err := runner.Run(ctx, dedup.RunOptions{SourceID: sourceID})
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %d deduplicated, %d matched, %d failed\n",
							path, run.Processed, run.Matched, run.Failed)
					}
					return nil
				}

				for _, path := range args {
					if err := importFile(ctx, path); err != nil {
						return err
					}
				}

				if watchDir == "" {
					return nil
				}

				w, err := watcher.New(watchDir, watcher.Options{
					Extensions:  service.ImportFileExtensions,
					SettleDelay: settle,
				}, log.Logger)
				if err != nil {
					return err
				}
				defer w.Close()

				return w.RunDropDir(ctx, importFile)
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "data source the records belong to")
	cmd.Flags().StringVar(&watchDir, "watch", "", "import files dropped into this directory until interrupted")
	cmd.Flags().BoolVar(&dedupAfter, "dedup", false, "deduplicate the source after each imported file")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "how long a dropped file must stay unchanged")

	return cmd
}
