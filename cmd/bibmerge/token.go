package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/bibmerge/bibmerge/internal/auth"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		operator string
		scopes   []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the maintenance API",
		Example: `  bibmerge token --operator alice
  curl -H "Authorization: Bearer $TOKEN" -X POST localhost:8080/api/v1/records/helmet.1/deduplicate`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), opts, func(_ context.Context, i do.Injector) error {
				tokens, err := do.Invoke[*auth.TokenService](i)
				if err != nil {
					return err
				}
				token, claims, err := tokens.Issue(operator, scopes...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", claims.Expiration.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the token")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeDedup}, "granted scopes")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}
