package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"triage/api/internal/app"
	"triage/api/internal/tasks"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API on API_ADDR.

With --with-worker the asynq task worker runs in the same process. Without
REDIS_URL tasks always run inline and the flag has no effect.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also run the background task worker")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if id, ok, err := rt.sessions.Restore(ctx); err != nil {
		logger.Warn("restore session", zap.Error(err))
	} else if ok {
		logger.Info("restored operator session", zap.String("user_id", id.User.ID))
	}

	deps := app.Deps{
		Sessions:      rt.sessions,
		Tokens:        rt.tokens,
		Credentials:   rt.credentials,
		Conversations: rt.conversations,
		Messages:      rt.messages,
		Activity:      rt.activity,
		Stats:         rt.stats,
		Attendances:   rt.attendances,
		Exports:       rt.exports,
		History:       rt.archive,
		Search:        rt.search,
		Checker:       rt.checker,
		DB:            rt.store,
		Metrics:       rt.metrics,
		Logger:        logger.Named("http"),
		CORSOrigin:    cfg.CORSOrigin,
	}
	if rt.archiver != nil {
		deps.Archiver = rt.archiver
	}
	server := app.NewHTTPServer(deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.sessions.RunRevalidation(gctx, cfg.RevalidateInterval)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx, cfg.Addr)
	})
	if serveWithWorker && strings.TrimSpace(cfg.RedisURL) != "" {
		worker, err := tasks.NewServer(cfg.RedisURL, cfg.AsynqConcurrency, rt.handlers, logger.Named("worker"))
		if err != nil {
			return err
		}
		g.Go(func() error { return worker.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
