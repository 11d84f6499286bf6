// Package cmd provides the searchsync CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/logger"
)

type options struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "searchsync",
		Short: "Operate the business search index and its sync pipeline",
		Long: `searchsync manages the business search index: it migrates and verifies
the index mapping, queues rebuild and incremental sync jobs, controls the
job queue and runs ad-hoc searches.

Configuration comes from an optional YAML file, a .env file and SS_*
environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newIndexCmd(opts),
		newSyncCmd(opts),
		newQueueCmd(opts),
		newSearchCmd(opts),
	)
	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// open loads the configuration and connects what needs asks for.
func (o *options) open(needs bootstrap.Needs) (*bootstrap.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logger.SetupWriter(os.Stderr, o.logLevel, cfg.Logging.Format)
	return bootstrap.Open(cfg, nil, needs)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
