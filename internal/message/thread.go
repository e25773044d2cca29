package message

import (
	"context"
	"sort"
	"sync"

	"triage/api/internal/store"
)

// Thread is a caller-held, creation-ordered view of one conversation's messages.
type Thread struct {
	svc            *Service
	conversationID string

	mu       sync.RWMutex
	messages []Message
}

// Open loads the conversation's messages into a new Thread.
func (s *Service) Open(ctx context.Context, conversationID string) (*Thread, error) {
	items, err := s.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &Thread{svc: s, conversationID: conversationID, messages: items}, nil
}

func (t *Thread) ConversationID() string { return t.conversationID }

// Messages returns a copy of the view.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Records returns the view in stored form, for transcript rendering.
func (t *Thread) Records() []store.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]store.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m.Record())
	}
	return out
}

// Append stores a message and adds it to the view in creation order.
func (t *Thread) Append(ctx context.Context, text string, isAI bool) (Message, error) {
	saved, err := t.svc.Append(ctx, t.conversationID, text, isAI)
	if err != nil {
		return Message{}, err
	}
	t.insert(saved)
	return saved, nil
}

func (t *Thread) insert(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(m.CreatedAt)
	})
	t.messages = append(t.messages, Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
}
