package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"triage/api/internal/apperr"
)

// RecentActivity returns at most limit records, newest first.
func (s *PostgresStore) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	ctx, done := s.call(ctx, "recent_activity")
	defer done()

	if limit <= 0 {
		return []Activity{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, description, status, avatar, created_at
		FROM activity_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperr.Persistence("recent activity", err)
	}
	defer rows.Close()

	items := []Activity{}
	for rows.Next() {
		var (
			item                        Activity
			description, status, avatar sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Type, &item.Title, &description, &status, &avatar, &item.CreatedAt); err != nil {
			return nil, apperr.Persistence("scan activity", err)
		}
		item.Description = nullString(description)
		item.Status = nullString(status)
		item.Avatar = nullString(avatar)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate activity", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item Activity) (Activity, error) {
	ctx, done := s.call(ctx, "insert_activity")
	defer done()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activity_records (id, type, title, description, status, avatar, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		RETURNING created_at
	`, item.ID, item.Type, item.Title, item.Description, item.Status, item.Avatar, nullableTime(item.CreatedAt)).Scan(&item.CreatedAt)
	if err != nil {
		return Activity{}, apperr.Persistence("insert activity", err)
	}
	return item, nil
}
