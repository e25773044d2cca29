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

const attendanceColumns = `id, name, phone, date, status, last_interaction, message_count, conversation_id, created_at, updated_at`

func scanAttendance(row rowScanner) (Attendance, error) {
	var (
		item            Attendance
		status          string
		lastInteraction sql.NullTime
		conversationID  sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Phone, &item.Date, &status, &lastInteraction, &item.MessageCount, &conversationID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Attendance{}, err
	}
	parsed, err := ParseAttendanceStatus(status)
	if err != nil {
		return Attendance{}, fmt.Errorf("decode attendance %s: %w", item.ID, err)
	}
	item.Status = parsed
	item.LastInteraction = nullTime(lastInteraction)
	item.ConversationID = nullString(conversationID)
	return item, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns a free-text query into an ILIKE substring pattern with
// wildcards in the query matched literally. An empty query stays empty.
func containsPattern(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(query) + "%"
}

// ListAttendances returns attendances newest first. Query matches name or phone
// case-insensitively; empty filter fields match everything.
func (s *PostgresStore) ListAttendances(ctx context.Context, filter AttendanceFilter) ([]Attendance, error) {
	ctx, done := s.call(ctx, "list_attendances")
	defer done()

	var date any
	if filter.Date != nil {
		date = filter.Date.Format("2006-01-02")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE ($1 = '' OR name ILIKE $1 ESCAPE '\' OR phone ILIKE $1 ESCAPE '\')
			AND ($2 = '' OR status = $2)
			AND ($3::date IS NULL OR date = $3::date)
		ORDER BY created_at DESC, id
	`, containsPattern(filter.Query), string(filter.Status), date)
	if err != nil {
		return nil, apperr.Persistence("list attendances", err)
	}
	defer rows.Close()

	items := []Attendance{}
	for rows.Next() {
		item, err := scanAttendance(rows)
		if err != nil {
			return nil, apperr.Persistence("scan attendance", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate attendances", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateAttendance(ctx context.Context, item Attendance) (Attendance, error) {
	ctx, done := s.call(ctx, "create_attendance")
	defer done()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = AttendancePending
	}
	var date any
	if !item.Date.IsZero() {
		date = item.Date.Format("2006-01-02")
	}
	created, err := scanAttendance(s.db.QueryRowContext(ctx, `
		INSERT INTO attendances (id, name, phone, date, status, last_interaction, message_count, conversation_id)
		VALUES ($1, $2, $3, COALESCE($4::date, CURRENT_DATE), $5, $6, $7, $8)
		RETURNING `+attendanceColumns,
		item.ID, item.Name, item.Phone, date, string(item.Status), item.LastInteraction, item.MessageCount, item.ConversationID,
	))
	if err != nil {
		return Attendance{}, apperr.Persistence("create attendance", err)
	}
	return created, nil
}

// UpdateAttendance applies patch and stamps updated_at.
func (s *PostgresStore) UpdateAttendance(ctx context.Context, id string, patch AttendancePatch) (Attendance, error) {
	ctx, done := s.call(ctx, "update_attendance")
	defer done()

	if !validID(id) {
		return Attendance{}, fmt.Errorf("attendance %s: %w", id, apperr.ErrNotFound)
	}
	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	item, err := scanAttendance(s.db.QueryRowContext(ctx, `
		UPDATE attendances SET
			status = COALESCE($2, status),
			last_interaction = COALESCE($3, last_interaction),
			message_count = COALESCE($4, message_count),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+attendanceColumns,
		id, status, patch.LastInteraction, patch.MessageCount,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Attendance{}, fmt.Errorf("attendance %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Attendance{}, apperr.Persistence("update attendance", err)
	}
	return item, nil
}
