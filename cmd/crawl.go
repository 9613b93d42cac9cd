package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/govscout/crawlworker/internal/app"
	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/id/uuid"
)

func newCrawlCmd() *cobra.Command {
	var (
		targetID string
		startURL string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Enqueue a seed crawl task for a target.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := uuid.NewGenerator().NewID()
			if err != nil {
				return fmt.Errorf("generate task id: %w", err)
			}
			task := crawler.CrawlTask{
				TaskID:     id,
				TargetID:   targetID,
				URL:        startURL,
				Kind:       crawler.TaskKindListingPage,
				SessionRef: targetID,
			}
			if err := task.Validate(); err != nil {
				return err
			}
			if err := a.Queue().Enqueue(cmd.Context(), task); err != nil {
				return fmt.Errorf("enqueue seed task: %w", err)
			}
			fmt.Printf("enqueued task %s for target %s\n", id, targetID)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetID, "target", "", "target identifier (names the rule set)")
	cmd.Flags().StringVar(&startURL, "url", "", "listing page URL to start from")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
