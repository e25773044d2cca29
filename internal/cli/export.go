package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"triage/api/internal/export"
	"triage/api/internal/message"
	"triage/api/internal/store"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Write a conversation transcript to a file",
	Long: `Render a conversation transcript as txt, csv or pdf.

Examples:
  triage export 0b7c... --format pdf
  triage export 0b7c... --format csv --out transcript.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "txt", "txt, csv or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default: generated file name)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, pg, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	transcript, err := threadTranscript(ctx, pg, args[0], time.Now())
	if err != nil {
		return fmt.Errorf("export %s: %w", args[0], err)
	}
	res, err := newExportService(pg, nil).Render(ctx, transcript, format)
	if err != nil {
		return fmt.Errorf("export %s: %w", args[0], err)
	}
	out := exportOut
	if out == "" {
		out = res.Filename
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(res.Data))
	return nil
}

type transcriptSource interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	message.Store
}

// threadTranscript opens the conversation's message thread and builds the
// transcript from it.
func threadTranscript(ctx context.Context, st transcriptSource, conversationID string, now time.Time) (export.Transcript, error) {
	c, err := st.GetConversation(ctx, conversationID)
	if err != nil {
		return export.Transcript{}, err
	}
	thread, err := message.NewService(st).Open(ctx, conversationID)
	if err != nil {
		return export.Transcript{}, err
	}
	return export.Build(c, thread.Records(), now), nil
}
