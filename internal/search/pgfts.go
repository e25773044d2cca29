package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS searches the generated tsvector columns with the 'simple' configuration.
type PgFTS struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPgFTS(db *sql.DB, timeout time.Duration) *PgFTS {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PgFTS{db: db, timeout: timeout}
}

// Healthy is always true; the service cannot run without Postgres.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	if q.Text == "" {
		return nil, 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const tsQuery = "plainto_tsquery('simple', $1)"
	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultConversation {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'conversation'::text AS type, c.id::text AS id, c.client_name AS title,
				ts_headline('simple', c.client_phone || ' ' || coalesce(c.rejection_reason, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id::text AS conversation_id, c.status,
				ts_rank(c.fts, %[1]s) AS rank
			FROM conversations c
			WHERE c.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id::text AS id, c.client_name AS title,
				ts_headline('simple', m.text, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.conversation_id::text AS conversation_id, c.status,
				ts_rank(m.fts, %[1]s) AS rank
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.fts @@ %[1]s`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, conversation_id, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, q.Limit, q.Offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ConversationID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every conversation and message for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ConversationRecord, []MessageRecord, error) {
	convRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, client_name, client_phone, status, coalesce(rejection_reason, ''), updated_at
		FROM conversations
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversations: %w", err)
	}
	defer convRows.Close()

	conversations := make([]ConversationRecord, 0)
	for convRows.Next() {
		var (
			c       ConversationRecord
			updated time.Time
		)
		if err := convRows.Scan(&c.ID, &c.ClientName, &c.ClientPhone, &c.Status, &c.RejectionReason, &updated); err != nil {
			return nil, nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.UpdatedAt = updated.Unix()
		conversations = append(conversations, c)
	}
	if err := convRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate conversations: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, conversation_id::text, text, is_ai, created_at
		FROM messages
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var (
			m       MessageRecord
			created time.Time
		)
		if err := msgRows.Scan(&m.ID, &m.ConversationID, &m.Text, &m.IsAI, &created); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = created.Unix()
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}
	return conversations, messages, nil
}
