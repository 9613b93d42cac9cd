package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/api"
	"github.com/govscout/crawlworker/internal/app"
	"github.com/govscout/crawlworker/internal/id/uuid"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the crawl worker loop.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.NewServer(a.Queue(), uuid.NewGenerator(), a.Logger())
			go func() {
				if err := server.ListenAndServe(ctx, cfg.Server.Port); err != nil {
					a.Logger().Error("ops server stopped", zap.Error(err))
				}
			}()

			a.Logger().Info("worker running", zap.Int("port", cfg.Server.Port))
			a.Runner().Run(ctx)
			a.Logger().Info("worker stopped")
			return nil
		},
	}
}
