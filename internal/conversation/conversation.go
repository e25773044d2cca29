// Package conversation lists review conversations and moves them between statuses.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

// NoMessagesPreview is shown for conversations that have no messages yet.
const NoMessagesPreview = "Sem mensagens"

// ReasonPolicy decides what happens to a stored rejection reason when a
// conversation is approved without a new reason.
type ReasonPolicy string

const (
	RetainReason ReasonPolicy = "retain"
	ClearReason  ReasonPolicy = "clear"
)

func ParseReasonPolicy(value string) (ReasonPolicy, error) {
	switch p := ReasonPolicy(strings.ToLower(strings.TrimSpace(value))); p {
	case RetainReason, ClearReason:
		return p, nil
	case "":
		return RetainReason, nil
	default:
		return "", fmt.Errorf("unknown rejection reason policy %q", value)
	}
}

type Store interface {
	ListConversations(ctx context.Context, status store.ConversationStatus) ([]store.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, change store.StatusChange) (store.Conversation, error)
}

type Recorder interface {
	Record(ctx context.Context, entry store.Activity) (store.Activity, error)
}

// Indexer receives every conversation whose status changed.
type Indexer interface {
	IndexConversation(ctx context.Context, c store.Conversation) error
}

// Auditor is told about every approve or reject decision.
type Auditor interface {
	RecordDecision(ctx context.Context, d Decision) error
}

type Metrics interface {
	StatusUpdate(status string, ok bool)
}

// Decision is one approve or reject action by an operator.
type Decision struct {
	ConversationID string                   `json:"conversation_id"`
	ClientName     string                   `json:"client_name"`
	Status         store.ConversationStatus `json:"status"`
	Reason         *string                  `json:"reason,omitempty"`
	ActorID        string                   `json:"actor_id"`
	ActorName      string                   `json:"actor_name"`
	DecidedAt      time.Time                `json:"decided_at"`
}

// Summary is a conversation enriched for the list view.
type Summary struct {
	ID              string    `json:"id"`
	ClientName      string    `json:"clientName"`
	ClientPhone     string    `json:"clientPhone"`
	Status          string    `json:"status"`
	RejectionReason *string   `json:"rejectionReason,omitempty"`
	Initials        string    `json:"avatar"`
	LastMessage     string    `json:"lastMessage"`
	UnreadCount     int       `json:"unreadCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// StatusRequest asks for a conversation to be approved or rejected.
type StatusRequest struct {
	Status    store.ConversationStatus
	Reason    *string
	ActorID   string
	ActorName string
}

type Service struct {
	store    Store
	policy   ReasonPolicy
	recorder Recorder
	indexer  Indexer
	auditor  Auditor
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }
func WithIndexer(i Indexer) Option   { return func(s *Service) { s.indexer = i } }
func WithAuditor(a Auditor) Option   { return func(s *Service) { s.auditor = a } }
func WithMetrics(m Metrics) Option   { return func(s *Service) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(st Store, policy ReasonPolicy, opts ...Option) *Service {
	if policy == "" {
		policy = RetainReason
	}
	s := &Service{store: st, policy: policy, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() ReasonPolicy { return s.policy }

// List returns conversations newest-updated first. An empty status lists all of them.
func (s *Service) List(ctx context.Context, status string) ([]Summary, error) {
	var filter store.ConversationStatus
	if strings.TrimSpace(status) != "" {
		parsed, err := store.ParseConversationStatus(status)
		if err != nil {
			return nil, apperr.Invalid("status", err.Error())
		}
		filter = parsed
	}

	rows, err := s.store.ListConversations(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, summarize(row))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Transition approves or rejects a conversation and returns the stored result.
// Rejecting requires a reason; a reason sent with an approval is ignored.
func (s *Service) Transition(ctx context.Context, id string, req StatusRequest) (store.Conversation, error) {
	change, err := s.change(req)
	if err != nil {
		return store.Conversation{}, err
	}

	updated, err := s.store.UpdateConversationStatus(ctx, id, change)
	if s.metrics != nil {
		s.metrics.StatusUpdate(string(req.Status), err == nil)
	}
	if err != nil {
		return store.Conversation{}, err
	}

	s.afterTransition(ctx, updated, req)
	return updated, nil
}

// UpdateStatus is Transition for callers that only need to know whether the write
// happened. Failures are logged, never returned.
func (s *Service) UpdateStatus(ctx context.Context, id string, req StatusRequest) (store.Conversation, bool) {
	updated, err := s.Transition(ctx, id, req)
	if err != nil {
		s.logger.Error("update conversation status",
			zap.String("conversation_id", id),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
		return store.Conversation{}, false
	}
	return updated, true
}

func (s *Service) change(req StatusRequest) (store.StatusChange, error) {
	switch req.Status {
	case store.StatusRejected:
		if req.Reason == nil || strings.TrimSpace(*req.Reason) == "" {
			return store.StatusChange{}, apperr.Invalid("reason", "is required when rejecting")
		}
		reason := strings.TrimSpace(*req.Reason)
		return store.StatusChange{Status: store.StatusRejected, Reason: &reason}, nil
	case store.StatusApproved:
		return store.StatusChange{Status: store.StatusApproved, ClearReason: s.policy == ClearReason}, nil
	default:
		return store.StatusChange{}, apperr.Invalid("status", "must be approved or rejected")
	}
}

func (s *Service) afterTransition(ctx context.Context, c store.Conversation, req StatusRequest) {
	if s.recorder != nil {
		entry := store.Activity{
			Type:   "conversation_status",
			Title:  statusTitle(c),
			Status: ptr(string(c.Status)),
			Avatar: ptr(Initials(c.ClientName)),
		}
		if c.Status == store.StatusRejected {
			entry.Description = c.RejectionReason
		}
		if _, err := s.recorder.Record(ctx, entry); err != nil {
			s.logger.Warn("record status activity", zap.String("conversation_id", c.ID), zap.Error(err))
		}
	}
	if s.indexer != nil {
		if err := s.indexer.IndexConversation(ctx, c); err != nil {
			s.logger.Warn("index conversation", zap.String("conversation_id", c.ID), zap.Error(err))
		}
	}
	if s.auditor != nil {
		d := Decision{
			ConversationID: c.ID,
			ClientName:     c.ClientName,
			Status:         c.Status,
			Reason:         c.RejectionReason,
			ActorID:        req.ActorID,
			ActorName:      req.ActorName,
			DecidedAt:      s.now().UTC(),
		}
		if c.Status != store.StatusRejected {
			d.Reason = nil
		}
		if err := s.auditor.RecordDecision(ctx, d); err != nil {
			s.logger.Warn("audit decision", zap.String("conversation_id", c.ID), zap.Error(err))
		}
	}
}

func statusTitle(c store.Conversation) string {
	switch c.Status {
	case store.StatusApproved:
		return "Conversa aprovada: " + c.ClientName
	case store.StatusRejected:
		return "Conversa reprovada: " + c.ClientName
	default:
		return "Conversa atualizada: " + c.ClientName
	}
}

func summarize(row store.ConversationSummary) Summary {
	preview := NoMessagesPreview
	if row.LastMessage != nil && *row.LastMessage != "" {
		preview = *row.LastMessage
	}
	return Summary{
		ID:              row.ID,
		ClientName:      row.ClientName,
		ClientPhone:     row.ClientPhone,
		Status:          string(row.Status),
		RejectionReason: row.RejectionReason,
		Initials:        Initials(row.ClientName),
		LastMessage:     preview,
		UnreadCount:     row.UnreadCount,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// Initials returns the avatar letters for a client name: the first letter of the
// first two words, or the first two letters of a single word, upper-cased.
func Initials(name string) string {
	words := strings.Fields(name)
	switch {
	case len(words) == 0:
		return ""
	case len(words) == 1:
		runes := []rune(words[0])
		if len(runes) > 2 {
			runes = runes[:2]
		}
		return strings.ToUpper(string(runes))
	default:
		first, _ := firstRune(words[0])
		second, _ := firstRune(words[1])
		return string([]rune{unicode.ToUpper(first), unicode.ToUpper(second)})
	}
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func ptr(s string) *string { return &s }
