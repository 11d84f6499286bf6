package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/migration"
)

func newIndexCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Migrate, verify or roll back the search index",
	}
	cmd.AddCommand(newIndexMigrateCmd(opts), newIndexVerifyCmd(opts), newIndexRollbackCmd(opts))
	return cmd
}

func newIndexMigrateCmd(opts *options) *cobra.Command {
	var mo migration.Options
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the index, or apply the chosen action to an existing one",
		Long: `Create the index from the schema. When the index already exists nothing
changes unless one of the flags says otherwise:

  --skip-if-exists   leave it alone and succeed
  --delete-existing  delete it and create it again (all documents are lost)
  --update-mapping   put the current mapping onto it in place`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(bootstrap.Needs{})
			if err != nil {
				return err
			}
			defer app.Close()
			action, err := app.Migrator().Migrate(cmd.Context(), mo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s: %s\n", app.Config.Elasticsearch.IndexName, action)
			return nil
		},
	}
	cmd.Flags().BoolVar(&mo.DeleteExisting, "delete-existing", false, "delete and recreate an existing index")
	cmd.Flags().BoolVar(&mo.SkipIfExists, "skip-if-exists", false, "succeed without changes when the index exists")
	cmd.Flags().BoolVar(&mo.UpdateMapping, "update-mapping", false, "update the mapping of an existing index")
	return cmd
}

func newIndexVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the index exists with every required field",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(bootstrap.Needs{})
			if err != nil {
				return err
			}
			defer app.Close()
			report, err := app.Migrator().Verify(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return errors.New("index verification failed")
			}
			return nil
		},
	}
}

func newIndexRollbackCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Delete the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("rollback deletes every indexed document; pass --yes to confirm")
			}
			app, err := opts.open(bootstrap.Needs{})
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Migrator().Rollback(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s deleted\n", app.Config.Elasticsearch.IndexName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
