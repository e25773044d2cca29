package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"triage/api/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long:  `Consume reset-email and decision-archive tasks from Redis until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return errors.New("worker requires REDIS_URL")
	}
	ctx, stop := signalContext()
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	worker, err := tasks.NewServer(cfg.RedisURL, cfg.AsynqConcurrency, rt.handlers, logger.Named("worker"))
	if err != nil {
		return err
	}
	logger.Info("worker started")
	return worker.Run(ctx)
}
