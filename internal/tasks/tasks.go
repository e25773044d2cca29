// Package tasks moves slow side effects (reset emails, decision archiving) off the
// request path. With Redis they run on an asynq worker; without it they run inline.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"triage/api/internal/conversation"
	"triage/api/internal/store"
)

const (
	TypePasswordReset   = "email:password_reset"
	TypeDecisionArchive = "archive:decision"

	QueueCritical = "critical"
	QueueDefault  = "default"
)

// PasswordResetPayload carries everything the worker needs to email a reset link.
type PasswordResetPayload struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Enqueuer hands a task to whatever runs it.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload []byte) error
}

// Dispatcher turns domain events into tasks. It satisfies credential.ResetNotifier
// and conversation.Auditor.
type Dispatcher struct {
	enq    Enqueuer
	logger *zap.Logger
}

func NewDispatcher(enq Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{enq: enq, logger: logger}
}

func (d *Dispatcher) NotifyPasswordReset(ctx context.Context, user store.User, token string, expiresAt time.Time) error {
	payload, err := json.Marshal(PasswordResetPayload{Email: user.Email, Name: user.Name, Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("marshal reset payload: %w", err)
	}
	if err := d.enq.Enqueue(ctx, TypePasswordReset, payload); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypePasswordReset, err)
	}
	d.logger.Debug("password reset enqueued", zap.String("user_id", user.ID))
	return nil
}

func (d *Dispatcher) RecordDecision(ctx context.Context, decision conversation.Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision payload: %w", err)
	}
	if err := d.enq.Enqueue(ctx, TypeDecisionArchive, payload); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeDecisionArchive, err)
	}
	return nil
}

// Mailer sends the reset link email.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, to, userName, resetURL string) error
}

// DecisionArchive persists a decision in the audit trail.
type DecisionArchive interface {
	RecordDecision(ctx context.Context, d conversation.Decision) error
}

// Handlers run the work behind each task type.
type Handlers struct {
	Mailer   Mailer
	Archive  DecisionArchive
	ResetURL string
	Logger   *zap.Logger
}

func (h Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h Handlers) HandlePasswordReset(ctx context.Context, payload []byte) error {
	var p PasswordResetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode reset payload: %w", err)
	}
	if h.Mailer == nil {
		h.logger().Warn("no mailer configured, dropping reset email", zap.String("to", p.Email))
		return nil
	}
	if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
		h.logger().Info("reset token expired before delivery", zap.String("to", p.Email))
		return nil
	}
	link, err := ResetLink(h.ResetURL, p.Token)
	if err != nil {
		return err
	}
	return h.Mailer.SendPasswordResetEmail(ctx, p.Email, p.Name, link)
}

func (h Handlers) HandleDecisionArchive(ctx context.Context, payload []byte) error {
	var d conversation.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return fmt.Errorf("decode decision payload: %w", err)
	}
	if h.Archive == nil {
		return nil
	}
	return h.Archive.RecordDecision(ctx, d)
}

// Handle routes a task by type.
func (h Handlers) Handle(ctx context.Context, taskType string, payload []byte) error {
	switch taskType {
	case TypePasswordReset:
		return h.HandlePasswordReset(ctx, payload)
	case TypeDecisionArchive:
		return h.HandleDecisionArchive(ctx, payload)
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}
}

// ResetLink appends the token to the reset page URL.
func ResetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Inline runs tasks synchronously in the calling goroutine.
type Inline struct {
	Handlers Handlers
}

func (i Inline) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	return i.Handlers.Handle(ctx, taskType, payload)
}
