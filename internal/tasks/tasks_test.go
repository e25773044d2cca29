package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"triage/api/internal/conversation"
	"triage/api/internal/store"
)

type sentMail struct {
	to, name, link string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, to, name, link string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, name, link})
	return nil
}

type fakeArchive struct {
	decisions []conversation.Decision
}

func (a *fakeArchive) RecordDecision(_ context.Context, d conversation.Decision) error {
	a.decisions = append(a.decisions, d)
	return nil
}

func TestInlineDispatchSendsResetEmail(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(Inline{Handlers: Handlers{Mailer: mailer, ResetURL: "http://localhost:5173/reset-password"}}, nil)

	user := store.User{ID: "u1", Email: "ana@example.com", Name: "Ana"}
	if err := d.NotifyPasswordReset(context.Background(), user, "tok+/=", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("NotifyPasswordReset() error = %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(mailer.sent))
	}
	got := mailer.sent[0]
	if got.to != "ana@example.com" || got.name != "Ana" {
		t.Fatalf("unexpected mail %+v", got)
	}
	u, err := url.Parse(got.link)
	if err != nil {
		t.Fatalf("bad link %q: %v", got.link, err)
	}
	if u.Path != "/reset-password" || u.Query().Get("token") != "tok+/=" {
		t.Fatalf("unexpected link %q", got.link)
	}
}

func TestExpiredResetIsDropped(t *testing.T) {
	mailer := &fakeMailer{}
	h := Handlers{Mailer: mailer, ResetURL: "http://x/reset"}
	payload, _ := json.Marshal(PasswordResetPayload{Email: "a@b.c", Token: "t", ExpiresAt: time.Now().Add(-time.Minute)})
	if err := h.HandlePasswordReset(context.Background(), payload); err != nil {
		t.Fatalf("HandlePasswordReset() error = %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatal("expired token must not be emailed")
	}
}

func TestMailerErrorIsReturnedForRetry(t *testing.T) {
	h := Handlers{Mailer: &fakeMailer{err: errors.New("smtp down")}, ResetURL: "http://x/reset"}
	payload, _ := json.Marshal(PasswordResetPayload{Email: "a@b.c", Token: "t", ExpiresAt: time.Now().Add(time.Hour)})
	if err := h.HandlePasswordReset(context.Background(), payload); err == nil {
		t.Fatal("expected error so the worker retries")
	}
}

func TestInlineDispatchArchivesDecision(t *testing.T) {
	archive := &fakeArchive{}
	d := NewDispatcher(Inline{Handlers: Handlers{Archive: archive}}, nil)
	reason := "sem retorno"
	decision := conversation.Decision{ConversationID: "c1", Status: store.StatusRejected, Reason: &reason, ActorName: "Op"}

	if err := d.RecordDecision(context.Background(), decision); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	if len(archive.decisions) != 1 || archive.decisions[0].ConversationID != "c1" || *archive.decisions[0].Reason != reason {
		t.Fatalf("unexpected archived decisions %+v", archive.decisions)
	}
}

func TestHandleRejectsUnknownType(t *testing.T) {
	if err := (Handlers{}).Handle(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error")
	}
	if err := (Handlers{}).Handle(context.Background(), TypePasswordReset, []byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAsynqClientEnqueuesOnQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewAsynqClientWithOpt(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewDispatcher(client, nil)
	if err := d.NotifyPasswordReset(context.Background(), store.User{ID: "u1", Email: "a@b.c"}, "t", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("NotifyPasswordReset() error = %v", err)
	}
	if err := d.RecordDecision(context.Background(), conversation.Decision{ConversationID: "c1"}); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}

	critical, err := mr.List("asynq:{critical}:pending")
	if err != nil || len(critical) != 1 {
		t.Fatalf("expected one critical task, got %v (%v)", critical, err)
	}
	defaults, err := mr.List("asynq:{default}:pending")
	if err != nil || len(defaults) != 1 {
		t.Fatalf("expected one default task, got %v (%v)", defaults, err)
	}
}

func TestResetTaskIsNotRetained(t *testing.T) {
	var retention *time.Duration
	for _, opt := range optionsFor(TypePasswordReset) {
		if opt.Type() == asynq.RetentionOpt {
			d := opt.Value().(time.Duration)
			retention = &d
		}
	}
	if retention == nil || *retention != 0 {
		t.Fatalf("reset tasks must set zero retention, got %v", retention)
	}
}

func TestSettleDiscardsExhaustedResetTasks(t *testing.T) {
	boom := errors.New("smtp down")
	cases := []struct {
		name     string
		taskType string
		err      error
		retried  int
		wantErr  bool
	}{
		{name: "success", taskType: TypePasswordReset, retried: 5},
		{name: "reset retries remain", taskType: TypePasswordReset, err: boom, retried: 2, wantErr: true},
		{name: "reset exhausted", taskType: TypePasswordReset, err: boom, retried: 5},
		{name: "archive exhausted", taskType: TypeDecisionArchive, err: boom, retried: 5, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := settle(tc.taskType, tc.err, tc.retried, 5, zap.NewNop())
			if (err != nil) != tc.wantErr {
				t.Fatalf("settle() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestResetLinkKeepsExistingQuery(t *testing.T) {
	link, err := ResetLink("https://app.example/reset?lang=pt", "abc")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(link)
	if u.Query().Get("lang") != "pt" || u.Query().Get("token") != "abc" {
		t.Fatalf("unexpected link %q", link)
	}
}
