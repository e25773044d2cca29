// Package search finds conversations and messages, through Meilisearch when it is
// reachable and Postgres full-text search otherwise.
package search

import (
	"context"
	"strings"

	"triage/api/internal/apperr"
)

type ResultType string

const (
	ResultConversation ResultType = "conversation"
	ResultMessage      ResultType = "message"
)

func ParseResultType(value string) (ResultType, error) {
	switch t := ResultType(strings.ToLower(strings.TrimSpace(value))); t {
	case "":
		return "", nil
	case ResultConversation, ResultMessage:
		return t, nil
	default:
		return "", apperr.Invalid("type", "must be conversation or message")
	}
}

// Result is a single search hit.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	ConversationID string     `json:"conversationId"`
	Status         string     `json:"status,omitempty"`
}

type Query struct {
	Text       string
	FilterType ResultType
	Limit      int
	Offset     int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher executes a full-text query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Backend is a searcher that also maintains its own index.
type Backend interface {
	Searcher
	IndexConversations(ctx context.Context, records []ConversationRecord) error
	IndexMessages(ctx context.Context, records []MessageRecord) error
}

// ConversationRecord is the indexed form of a conversation.
type ConversationRecord struct {
	ID              string `json:"id"`
	ClientName      string `json:"clientName"`
	ClientPhone     string `json:"clientPhone"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejectionReason"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// MessageRecord is the indexed form of a message.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	IsAI           bool   `json:"isAi"`
	CreatedAt      int64  `json:"createdAt"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (q Query) normalized() Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
