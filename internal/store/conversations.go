package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"triage/api/internal/apperr"
)

const conversationColumns = `c.id, c.client_name, c.client_phone, c.status, c.rejection_reason, c.created_at, c.updated_at`

func scanConversation(row rowScanner, extra ...any) (Conversation, error) {
	var (
		item   Conversation
		status string
		reason sql.NullString
	)
	dest := append([]any{&item.ID, &item.ClientName, &item.ClientPhone, &status, &reason, &item.CreatedAt, &item.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Conversation{}, err
	}
	parsed, err := ParseConversationStatus(status)
	if err != nil {
		return Conversation{}, fmt.Errorf("decode conversation %s: %w", item.ID, err)
	}
	item.Status = parsed
	item.RejectionReason = nullString(reason)
	return item, nil
}

// ListConversations returns conversations newest-updated first, each joined with its latest
// message text and the number of client-authored messages, in a single query.
func (s *PostgresStore) ListConversations(ctx context.Context, status ConversationStatus) ([]ConversationSummary, error) {
	ctx, done := s.call(ctx, "list_conversations")
	defer done()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`, latest.text, COALESCE(unread.total, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT m.text
			FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.timestamp DESC
			LIMIT 1
		) latest ON TRUE
		LEFT JOIN (
			SELECT conversation_id, COUNT(*) AS total
			FROM messages
			WHERE is_ai = FALSE
			GROUP BY conversation_id
		) unread ON unread.conversation_id = c.id
		WHERE ($1 = '' OR c.status = $1)
		ORDER BY c.updated_at DESC, c.id
	`, string(status))
	if err != nil {
		return nil, apperr.Persistence("list conversations", err)
	}
	defer rows.Close()

	items := []ConversationSummary{}
	for rows.Next() {
		var (
			latest sql.NullString
			unread int
		)
		conversation, err := scanConversation(rows, &latest, &unread)
		if err != nil {
			return nil, apperr.Persistence("scan conversation", err)
		}
		items = append(items, ConversationSummary{
			Conversation: conversation,
			LastMessage:  nullString(latest),
			UnreadCount:  unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate conversations", err)
	}
	return items, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	ctx, done := s.call(ctx, "get_conversation")
	defer done()

	if !validID(id) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	item, err := scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Conversation{}, apperr.Persistence("get conversation", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, item Conversation) (Conversation, error) {
	ctx, done := s.call(ctx, "create_conversation")
	defer done()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations AS c (id, client_name, client_phone, status, rejection_reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+conversationColumns,
		item.ID, strings.TrimSpace(item.ClientName), strings.TrimSpace(item.ClientPhone), string(item.Status), item.RejectionReason,
	)
	created, err := scanConversation(row)
	if err != nil {
		return Conversation{}, apperr.Persistence("create conversation", err)
	}
	return created, nil
}

// UpdateConversationStatus writes change and stamps updated_at. The returned row is the
// state after the write.
func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, change StatusChange) (Conversation, error) {
	ctx, done := s.call(ctx, "update_conversation_status")
	defer done()

	if !validID(id) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE conversations AS c SET
			status = $2,
			rejection_reason = CASE
				WHEN $3::text IS NOT NULL THEN $3::text
				WHEN $4::boolean THEN NULL
				ELSE c.rejection_reason
			END,
			updated_at = NOW()
		WHERE c.id = $1
		RETURNING `+conversationColumns,
		id, string(change.Status), change.Reason, change.ClearReason,
	)
	item, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Conversation{}, apperr.Persistence("update conversation status", err)
	}
	return item, nil
}
