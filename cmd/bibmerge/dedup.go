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
	"github.com/bibmerge/bibmerge/internal/service"
)

func newDeduplicateCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID   string
		all        bool
		singleID   string
		allRecords bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "deduplicate [--source SOURCE | --all]",
		Short: "Link duplicate records into clusters",
		Long: `Processes records flagged as changed since the last run, searching for a
duplicate in other sources through shared ISBN and title keys. Matching
records share a dedup key afterwards; records that no longer match leave
their cluster.

Without --source every source with dedup enabled is processed. An explicit
--source runs even when the source has dedup disabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all && sourceID != "" {
				return errors.New("--all and --source are mutually exclusive")
			}
			if singleID != "" && sourceID == "" {
				return errors.New("--single requires --source")
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				handle, err := do.Invoke[*providers.DedupRunnerHandle](i)
				if err != nil {
					return err
				}

				res, err := handle.Run(ctx, dedup.RunOptions{
					SourceID:   sourceID,
					RecordID:   singleID,
					AllRecords: allRecords,
				})
				if res != nil {
					if asJSON {
						if err := printJSON(cmd.OutOrStdout(), res); err != nil {
							return err
						}
					} else {
						fmt.Fprintf(cmd.OutOrStdout(),
							"run %s: %d processed, %d matched, %d failed, %d skipped in %s\n",
							res.RunID, res.Processed, res.Matched, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "process only this source")
	cmd.Flags().BoolVar(&all, "all", false, "process every source with dedup enabled (default)")
	cmd.Flags().StringVar(&singleID, "single", "", "process only this record ID")
	cmd.Flags().BoolVar(&allRecords, "all-records", false, "process every record, not only changed ones")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")

	return cmd
}

func newRenormalizeCmd(opts *globalOptions) *cobra.Command {
	var sourceID, singleID string

	cmd := &cobra.Command{
		Use:   "renormalize --source SOURCE",
		Short: "Reapply normalization and rebuild blocking keys",
		Long: `Reapplies the source's normalization rules to the stored original data,
rebuilds the blocking keys and marks the records for deduplication. Run it
after changing a source's normalization settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sourceID == "" {
				return errors.New("--source is required")
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				records, err := do.Invoke[*service.RecordService](i)
				if err != nil {
					return err
				}

				n, err := records.Renormalize(ctx, sourceID, singleID)
				fmt.Fprintf(cmd.OutOrStdout(), "%d records renormalized\n", n)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "source to renormalize")
	cmd.Flags().StringVar(&singleID, "single", "", "renormalize only this record ID")

	return cmd
}
