package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/di/providers"
	"github.com/bibmerge/bibmerge/internal/search"
)

func newUpdateIndexCmd(opts *globalOptions) *cobra.Command {
	var (
		sourceID string
		singleID string
		from     string
		all      bool
		rebuild  bool
	)

	cmd := &cobra.Command{
		Use:   "updateindex",
		Short: "Bring the search index up to date",
		Long: `Indexes records changed since the last full update. Clusters become one
merged document keyed by their dedup key; records outside a cluster are
indexed on their own. Records still waiting for deduplication are skipped.`,
		Example: `  # Index changes since the last run
  bibmerge updateindex

  # Reindex one source from a date
  bibmerge updateindex --source helmet --from 2024-01-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromTime, err := parseFrom(from)
			if err != nil {
				return err
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				updater, err := do.Invoke[*search.Updater](i)
				if err != nil {
					return err
				}

				res, err := updater.Update(ctx, search.UpdateOptions{
					SourceID: sourceID,
					RecordID: singleID,
					From:     fromTime,
					All:      all,
					Rebuild:  rebuild,
				})
				fmt.Fprintf(cmd.OutOrStdout(), "%d records read: %d indexed, %d merged, %d removed\n",
					res.Records, res.Indexed, res.Merged, res.Deleted)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "index only this source")
	cmd.Flags().StringVar(&singleID, "single", "", "index only this record ID")
	cmd.Flags().StringVar(&from, "from", "", "index records changed since this date or RFC 3339 time")
	cmd.Flags().BoolVar(&all, "all", false, "reindex every record")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "empty the index and reindex every record")
	cmd.MarkFlagsMutuallyExclusive("rebuild", "source")
	cmd.MarkFlagsMutuallyExclusive("rebuild", "single")

	return cmd
}

// parseFrom accepts a date or an RFC 3339 timestamp.
func parseFrom(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --from %q: want YYYY-MM-DD or RFC 3339", value)
	}
	return t, nil
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		sources []string
		types   []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Query the search index",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "" && len(sources) == 0 && len(types) == 0 {
				return errors.New("give a query or a filter")
			}

			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				index, err := do.Invoke[*providers.SearchIndexHandle](i)
				if err != nil {
					return err
				}

				params := search.DefaultSearchParams()
				params.Query = query
				params.Limit = limit
				params.Sources = sources
				params.Types = types
				params.Highlight = false
				params.IncludeFacets = asJSON

				res, err := index.Search(ctx, params)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d hits\n", res.Total)
				for _, h := range res.Hits {
					fmt.Fprintf(out, "%-8s %-24s %s", h.Type, h.ID, h.Title)
					if h.Author != "" {
						fmt.Fprintf(out, " / %s", h.Author)
					}
					if h.Year > 0 {
						fmt.Fprintf(out, " (%d)", h.Year)
					}
					fmt.Fprintf(out, " [%s]\n", strings.Join(h.LocalIDs, ", "))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of hits")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to documents with records from these sources")
	cmd.Flags().StringSliceVar(&types, "type", nil, "restrict to document types (record, merged)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}
