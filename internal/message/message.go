// Package message reads, appends and reviews the messages of a conversation.
package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

const MaxTextLen = 10000

type Store interface {
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	GetMessage(ctx context.Context, id string) (store.Message, error)
	AppendMessage(ctx context.Context, msg store.Message) (store.Message, error)
	ReviewMessage(ctx context.Context, id string, status store.ReviewStatus) (store.Message, error)
}

type Recorder interface {
	Record(ctx context.Context, entry store.Activity) (store.Activity, error)
}

// Indexer receives every appended message.
type Indexer interface {
	IndexMessage(ctx context.Context, m store.Message) error
}

type Metrics interface {
	MessageAppended(isAI bool)
}

// Message is the API view of a stored message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Text           string     `json:"text"`
	IsAI           bool       `json:"isAi"`
	Timestamp      time.Time  `json:"timestamp"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReviewStatus   string     `json:"reviewStatus"`
	ReviewedAt     *time.Time `json:"reviewedAt,omitempty"`
}

func FromStore(m store.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		IsAI:           m.IsAI,
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
		ReviewStatus:   string(m.ReviewStatus),
		ReviewedAt:     m.ReviewedAt,
	}
}

// Record converts the view back to its stored form.
func (m Message) Record() store.Message {
	return store.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		IsAI:           m.IsAI,
		Timestamp:      m.Timestamp,
		CreatedAt:      m.CreatedAt,
		ReviewStatus:   store.ReviewStatus(m.ReviewStatus),
		ReviewedAt:     m.ReviewedAt,
	}
}

type Service struct {
	store    Store
	recorder Recorder
	indexer  Indexer
	metrics  Metrics
	logger   *zap.Logger
}

type Option func(*Service)

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }
func WithIndexer(i Indexer) Option   { return func(s *Service) { s.indexer = i } }
func WithMetrics(m Metrics) Option   { return func(s *Service) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the conversation's messages oldest first. A conversation without
// messages yields an empty slice.
func (s *Service) List(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromStore(row))
	}
	return out, nil
}

// Append stores a message and touches its conversation in the same transaction.
func (s *Service) Append(ctx context.Context, conversationID, text string, isAI bool) (Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Message{}, apperr.Invalid("text", "is required")
	case len(text) > MaxTextLen:
		return Message{}, apperr.Invalid("text", fmt.Sprintf("must be at most %d bytes", MaxTextLen))
	}

	saved, err := s.store.AppendMessage(ctx, store.Message{ConversationID: conversationID, Text: text, IsAI: isAI})
	if err != nil {
		return Message{}, err
	}
	if s.metrics != nil {
		s.metrics.MessageAppended(isAI)
	}
	if s.indexer != nil {
		if err := s.indexer.IndexMessage(ctx, saved); err != nil {
			s.logger.Warn("index message", zap.String("message_id", saved.ID), zap.Error(err))
		}
	}
	return FromStore(saved), nil
}

// Review records an operator verdict on an AI-authored message.
func (s *Service) Review(ctx context.Context, messageID string, approved bool) (Message, error) {
	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if !current.IsAI {
		return Message{}, apperr.Invalid("message", "only AI messages can be reviewed")
	}

	status := store.ReviewRejected
	title := "Mensagem reprovada"
	if approved {
		status = store.ReviewApproved
		title = "Mensagem aprovada"
	}
	reviewed, err := s.store.ReviewMessage(ctx, messageID, status)
	if err != nil {
		return Message{}, err
	}

	if s.recorder != nil {
		preview := reviewed.Text
		if r := []rune(preview); len(r) > 80 {
			preview = string(r[:80]) + "..."
		}
		entry := store.Activity{Type: "message_review", Title: title, Description: &preview, Status: ptr(string(status))}
		if _, err := s.recorder.Record(ctx, entry); err != nil {
			s.logger.Warn("record review activity", zap.String("message_id", messageID), zap.Error(err))
		}
	}
	return FromStore(reviewed), nil
}

func ptr(s string) *string { return &s }
