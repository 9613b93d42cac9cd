// Package cmd defines the crawlworker command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govscout/crawlworker/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlworker",
		Short: "Queue-driven crawl worker for government contracting portals.",
		Long: `crawlworker consumes crawl tasks from a work queue, fetches and parses
paginated listing pages, deduplicates extracted records by content
fingerprint, and persists them durably. Follow-up tasks for pagination and
detail pages are emitted back onto the queue.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
