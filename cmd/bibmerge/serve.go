package main

import (
	"context"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/di/providers"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves record lookup, search, and the authenticated dedup and index
maintenance endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				opts.flags.Port = port
			}
			return withContainer(cmd.Context(), opts, func(ctx context.Context, i do.Injector) error {
				srv, err := do.Invoke[*providers.HTTPServerHandle](i)
				if err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-srv.Done:
					return srv.Err
				}
			})
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default from SERVER_PORT or 8080)")

	return cmd
}
