package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/query"
)

func newSearchCmd(opts *options) *cobra.Command {
	var req query.Request
	var industries, tags []string
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Run a search against the index and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(bootstrap.Needs{})
			if err != nil {
				return err
			}
			defer app.Close()
			req.Query = strings.Join(args, " ")
			req.Industries = industries
			req.Tags = tags
			resp, err := app.Search(nil).Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringSliceVar(&industries, "industry", nil, "filter by industry (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "boost businesses carrying the tag (repeatable)")
	cmd.Flags().IntVar(&req.Skip, "skip", 0, "results to skip")
	cmd.Flags().IntVar(&req.Take, "take", 0, "results to return (default from config)")
	return cmd
}
