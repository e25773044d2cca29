package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"triage/api/internal/apperr"
	"triage/api/internal/export"
	"triage/api/internal/store"
)

type memTranscripts struct {
	conversation store.Conversation
	messages     []store.Message
}

func (m memTranscripts) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	if id != m.conversation.ID {
		return store.Conversation{}, apperr.ErrNotFound
	}
	return m.conversation, nil
}

func (m memTranscripts) ListMessages(context.Context, string) ([]store.Message, error) {
	return m.messages, nil
}

func (m memTranscripts) GetMessage(context.Context, string) (store.Message, error) {
	return store.Message{}, apperr.ErrNotFound
}

func (m memTranscripts) AppendMessage(_ context.Context, msg store.Message) (store.Message, error) {
	return msg, nil
}

func (m memTranscripts) ReviewMessage(context.Context, string, store.ReviewStatus) (store.Message, error) {
	return store.Message{}, apperr.ErrNotFound
}

func TestThreadTranscript(t *testing.T) {
	t0 := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	src := memTranscripts{
		conversation: store.Conversation{ID: "c1", ClientName: "Ana Lima", Status: store.StatusPending},
		messages: []store.Message{
			{ID: "m1", ConversationID: "c1", Text: "oi", Timestamp: t0, CreatedAt: t0},
			{ID: "m2", ConversationID: "c1", Text: "olá!", IsAI: true, Timestamp: t0.Add(time.Minute), CreatedAt: t0.Add(time.Minute), ReviewStatus: store.ReviewApproved},
		},
	}
	now := t0.Add(time.Hour)

	tr, err := threadTranscript(context.Background(), src, "c1", now)
	if err != nil {
		t.Fatalf("threadTranscript() error = %v", err)
	}
	if tr.ClientName != "Ana Lima" || !tr.GeneratedAt.Equal(now) || len(tr.Lines) != 2 {
		t.Fatalf("unexpected transcript %+v", tr)
	}
	if tr.Lines[0].Speaker != "Ana Lima" || tr.Lines[1].Speaker != export.AISpeaker || tr.Lines[1].ReviewStatus != "approved" {
		t.Fatalf("unexpected lines %+v", tr.Lines)
	}

	if _, err := threadTranscript(context.Background(), src, "nope", now); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
