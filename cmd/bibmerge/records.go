package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/di/providers"
	"github.com/bibmerge/bibmerge/internal/service"
	"github.com/bibmerge/bibmerge/internal/store"
)

func newDumpCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID       string
		format         string
		output         string
		includeDeleted bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export stored records",
		Example: `  # Stream one source as JSON lines
  bibmerge dump --source helmet > helmet.jsonl

  # Write everything to a parquet file
  bibmerge dump --format parquet --output records.parquet`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = cerr
					}
				}()
				w = f
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				records, err := do.Invoke[*service.RecordService](i)
				if err != nil {
					return err
				}
				n, err := records.Dump(ctx, w, format, store.RecordFilter{
					SourceID:       sourceID,
					IncludeDeleted: includeDeleted,
				})
				if err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%d records written to %s\n", n, output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "dump only this source")
	cmd.Flags().StringVarP(&format, "format", "f", service.DumpJSONL, "output format (jsonl, parquet)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to FILE instead of stdout")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include tombstoned records")

	return cmd
}

func newCountCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID       string
		updateNeeded   bool
		includeDeleted bool
		bySource       bool
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count stored records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				records, err := do.Invoke[*service.RecordService](i)
				if err != nil {
					return err
				}

				if bySource {
					stats, err := records.Stats(ctx)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(cmd.OutOrStdout(), stats)
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SOURCE\tTOTAL\tDELETED\tUPDATE NEEDED\tCLUSTERED")
					for _, s := range stats {
						fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.SourceID, s.Total, s.Deleted, s.UpdateNeeded, s.Clustered)
					}
					return tw.Flush()
				}

				n, err := records.Count(ctx, store.RecordFilter{
					SourceID:       sourceID,
					UpdateNeeded:   updateNeeded,
					IncludeDeleted: includeDeleted,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "count only this source")
	cmd.Flags().BoolVar(&updateNeeded, "update-needed", false, "count only records waiting for deduplication")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include tombstoned records")
	cmd.Flags().BoolVar(&bySource, "by-source", false, "print a breakdown per source")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.MarkFlagsMutuallyExclusive("by-source", "source")

	return cmd
}

func newDeleteSourceCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID string
		index    bool
	)

	cmd := &cobra.Command{
		Use:   "deletesource",
		Short: "Tombstone every record of a source",
		Long: `Marks every live record of the source deleted. Tombstones keep their dedup
keys, so the next updateindex rebuilds or removes the clusters they were in.
With --index the source's standalone documents are dropped right away.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				records, err := do.Invoke[*service.RecordService](i)
				if err != nil {
					return err
				}
				n, err := records.DeleteSource(ctx, sourceID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d records of %s marked deleted\n", n, sourceID)

				if !index {
					return nil
				}
				idx, err := do.Invoke[*providers.SearchIndexHandle](i)
				if err != nil {
					return err
				}
				docs, err := idx.DeleteSource(ctx, sourceID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d index documents removed\n", docs)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "source ID")
	cmd.Flags().BoolVar(&index, "index", false, "also remove the source's standalone documents from the search index")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}
