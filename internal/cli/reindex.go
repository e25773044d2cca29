package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reindexWait time.Duration

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every conversation and message into Meilisearch",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

func init() {
	reindexCmd.Flags().DurationVar(&reindexWait, "wait", 15*time.Second, "how long to wait for Meilisearch to report healthy")
}

func runReindex(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return errors.New("reindex requires MEILI_URL")
	}
	ctx := context.Background()
	db, _, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, meili := newSearch(db)
	defer meili.Close()

	deadline := time.Now().Add(reindexWait)
	for !meili.Healthy() {
		if time.Now().After(deadline) {
			return errors.New("meilisearch did not become healthy")
		}
		time.Sleep(500 * time.Millisecond)
	}

	conversations, messages, err := svc.ReindexAll(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	logger.Info("reindex complete", zap.Int("conversations", conversations), zap.Int("messages", messages))
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d conversations and %d messages\n", conversations, messages)
	return nil
}
