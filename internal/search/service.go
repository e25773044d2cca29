package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"triage/api/internal/store"
)

// RecordLoader supplies every searchable record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ConversationRecord, []MessageRecord, error)
}

// Service tries the primary backend first and falls back to Postgres FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewService builds the facade. primary may be nil when Meilisearch is not configured.
func NewService(primary Backend, fallback Searcher, loader RecordLoader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, loader: loader, logger: logger}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails: backend errors degrade to the fallback and then to an empty result.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "pgfts"}
}

// Healthy reports whether any engine can answer queries.
func (s *Service) Healthy() bool {
	return s.primaryReady() || (s.fallback != nil && s.fallback.Healthy())
}

// IndexConversation pushes c to the primary index in the background.
func (s *Service) IndexConversation(_ context.Context, c store.Conversation) error {
	if !s.primaryReady() {
		return nil
	}
	rec := ConversationRecord{
		ID:          c.ID,
		ClientName:  c.ClientName,
		ClientPhone: c.ClientPhone,
		Status:      string(c.Status),
		UpdatedAt:   c.UpdatedAt.Unix(),
	}
	if c.RejectionReason != nil {
		rec.RejectionReason = *c.RejectionReason
	}
	s.async("index conversation", c.ID, func(ctx context.Context) error {
		return s.primary.IndexConversations(ctx, []ConversationRecord{rec})
	})
	return nil
}

// IndexMessage pushes m to the primary index in the background.
func (s *Service) IndexMessage(_ context.Context, m store.Message) error {
	if !s.primaryReady() {
		return nil
	}
	rec := MessageRecord{ID: m.ID, ConversationID: m.ConversationID, Text: m.Text, IsAI: m.IsAI, CreatedAt: m.CreatedAt.Unix()}
	s.async("index message", m.ID, func(ctx context.Context) error {
		return s.primary.IndexMessages(ctx, []MessageRecord{rec})
	})
	return nil
}

// ReindexAll loads every record and pushes it to the primary index.
func (s *Service) ReindexAll(ctx context.Context) (int, int, error) {
	if !s.primaryReady() || s.loader == nil {
		return 0, 0, nil
	}
	conversations, messages, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, 0, err
	}
	if err := s.primary.IndexConversations(ctx, conversations); err != nil {
		return 0, 0, err
	}
	if err := s.primary.IndexMessages(ctx, messages); err != nil {
		return len(conversations), 0, err
	}
	return len(conversations), len(messages), nil
}

// Wait blocks until background indexing finishes.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) async(op, id string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(context.Background()); err != nil {
			s.logger.Warn(op, zap.String("id", id), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
