package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/jobs"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/orchestrator"
)

type scope struct {
	tenantID       string
	organizationID string
}

func (s *scope) flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.tenantID, "tenant", "", "tenant id (UUID)")
	cmd.Flags().StringVar(&s.organizationID, "organization", "", "organization id")
}

func newSyncCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Queue rebuild and incremental sync jobs",
		Long: `Queue sync jobs for the workers. The command only enqueues; a running
searchsync-worker (or an api with embedded workers) executes the job.`,
	}
	cmd.AddCommand(newRebuildCmd(opts))
	for _, op := range []jobs.Operation{jobs.OpIndex, jobs.OpUpdate, jobs.OpDelete} {
		cmd.AddCommand(newEntityCmd(opts, op))
	}
	return cmd
}

func newRebuildCmd(opts *options) *cobra.Command {
	var (
		s         scope
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the whole index, or one tenant's documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd, opts, func(ctx context.Context, o *orchestrator.Orchestrator) (orchestrator.Enqueued, error) {
				return o.Rebuild(ctx, orchestrator.RebuildRequest{
					TenantID:       s.tenantID,
					OrganizationID: s.organizationID,
					BatchSize:      batchSize,
				})
			})
		},
	}
	s.flags(cmd)
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "documents per bulk request (default from config)")
	return cmd
}

func newEntityCmd(opts *options, op jobs.Operation) *cobra.Command {
	var s scope
	cmd := &cobra.Command{
		Use:   string(op) + " <business-id>",
		Short: "Queue an incremental " + string(op) + " of one business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd, opts, func(ctx context.Context, o *orchestrator.Orchestrator) (orchestrator.Enqueued, error) {
				return o.SyncIncremental(ctx, orchestrator.IncrementalRequest{
					Operation:      op,
					EntityID:       args[0],
					TenantID:       s.tenantID,
					OrganizationID: s.organizationID,
				})
			})
		},
	}
	s.flags(cmd)
	return cmd
}

// withOrchestrator runs a short-lived orchestrator around fn and prints the
// queued job.
func withOrchestrator(cmd *cobra.Command, opts *options, fn func(context.Context, *orchestrator.Orchestrator) (orchestrator.Enqueued, error)) error {
	app, err := opts.open(bootstrap.Needs{Queue: true})
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Config.Sync.QueueBackend == "memory" {
		return errors.New("the memory queue is private to one process; configure sync.queueBackend=redis to queue jobs from the CLI")
	}

	o, err := app.Orchestrator()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	res, err := fn(ctx, o)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
