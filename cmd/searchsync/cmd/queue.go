package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/queue"
)

func newQueueCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the sync job queue",
	}
	cmd.AddCommand(
		queueCmd(opts, "stats", "Show job counts per state", func(ctx context.Context, q queue.Queue) (any, error) {
			return q.Counts(ctx)
		}),
		queueCmd(opts, "pause", "Stop workers from taking new jobs", func(ctx context.Context, q queue.Queue) (any, error) {
			return map[string]bool{"paused": true}, q.Pause(ctx)
		}),
		queueCmd(opts, "resume", "Let workers take jobs again", func(ctx context.Context, q queue.Queue) (any, error) {
			return map[string]bool{"paused": false}, q.Resume(ctx)
		}),
		queueCmd(opts, "drain", "Remove waiting and delayed jobs", func(ctx context.Context, q queue.Queue) (any, error) {
			n, err := q.Drain(ctx)
			return map[string]int{"removed": n}, err
		}),
		queueCmd(opts, "clear", "Remove retained completed and failed jobs", func(ctx context.Context, q queue.Queue) (any, error) {
			total := 0
			for _, state := range []queue.State{queue.StateCompleted, queue.StateFailed} {
				n, err := q.Clean(ctx, state)
				if err != nil {
					return nil, err
				}
				total += n
			}
			return map[string]int{"removed": total}, nil
		}),
		newJobCmd(opts),
	)
	return cmd
}

func queueCmd(opts *options, use, short string, fn func(context.Context, queue.Queue) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts, func(q queue.Queue) error {
				out, err := fn(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newJobCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a job as the queue stores it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts, func(q queue.Queue) error {
				job, err := q.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func withQueue(cmd *cobra.Command, opts *options, fn func(queue.Queue) error) error {
	app, err := opts.open(bootstrap.Needs{Queue: true})
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Config.Sync.QueueBackend == "memory" {
		return errors.New("the memory queue is private to one process; configure sync.queueBackend=redis to manage it from the CLI")
	}
	return fn(app.Queue)
}
