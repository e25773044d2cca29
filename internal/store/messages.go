package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"triage/api/internal/apperr"
)

const messageColumns = `id, conversation_id, text, is_ai, timestamp, created_at, review_status, reviewed_at`

func scanMessage(row rowScanner) (Message, error) {
	var (
		item       Message
		review     string
		reviewedAt sql.NullTime
	)
	if err := row.Scan(&item.ID, &item.ConversationID, &item.Text, &item.IsAI, &item.Timestamp, &item.CreatedAt, &review, &reviewedAt); err != nil {
		return Message{}, err
	}
	parsed, err := ParseReviewStatus(review)
	if err != nil {
		return Message{}, fmt.Errorf("decode message %s: %w", item.ID, err)
	}
	item.ReviewStatus = parsed
	item.ReviewedAt = nullTime(reviewedAt)
	return item, nil
}

// ListMessages returns the conversation's messages in creation order. A conversation
// without messages yields an empty slice.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	ctx, done := s.call(ctx, "list_messages")
	defer done()

	if !validID(conversationID) {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, timestamp ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, apperr.Persistence("list messages", err)
	}
	defer rows.Close()

	items := []Message{}
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Persistence("scan message", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate messages", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	ctx, done := s.call(ctx, "get_message")
	defer done()

	if !validID(id) {
		return Message{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	item, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Message{}, apperr.Persistence("get message", err)
	}
	return item, nil
}

// AppendMessage inserts msg and touches the parent conversation in one transaction, so
// the new message and the conversation's updated_at become visible together.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	ctx, done := s.call(ctx, "append_message")
	defer done()

	if !validID(msg.ConversationID) {
		return Message{}, fmt.Errorf("conversation %s: %w", msg.ConversationID, apperr.ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	var created Message
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var touched string
		err := tx.QueryRowContext(ctx, `
			UPDATE conversations SET updated_at = NOW()
			WHERE id = $1
			RETURNING id
		`, msg.ConversationID).Scan(&touched)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", msg.ConversationID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		created, err = scanMessage(tx.QueryRowContext(ctx, `
			INSERT INTO messages (id, conversation_id, text, is_ai, timestamp, created_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), NOW())
			RETURNING `+messageColumns,
			msg.ID, msg.ConversationID, msg.Text, msg.IsAI, nullableTime(msg.Timestamp),
		))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, apperr.Persistence("append message", err)
	}
	return created, nil
}

// ReviewMessage records the operator's verdict on a single AI message.
func (s *PostgresStore) ReviewMessage(ctx context.Context, id string, status ReviewStatus) (Message, error) {
	ctx, done := s.call(ctx, "review_message")
	defer done()

	if !validID(id) {
		return Message{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	item, err := scanMessage(s.db.QueryRowContext(ctx, `
		UPDATE messages SET review_status = $2, reviewed_at = NOW()
		WHERE id = $1
		RETURNING `+messageColumns,
		id, string(status),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Message{}, apperr.Persistence("review message", err)
	}
	return item, nil
}
