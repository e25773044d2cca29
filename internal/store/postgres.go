package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"triage/api/internal/apperr"
)

// Observer receives the duration of every store call.
type Observer interface {
	ObserveGateway(op string, started time.Time)
}

// PostgresStore is the typed boundary over the relational database. Every call runs
// under the configured timeout and wraps driver failures as apperr.PersistenceError.
type PostgresStore struct {
	db       *sql.DB
	timeout  time.Duration
	observer Observer
}

func NewPostgresStore(db *sql.DB, timeout time.Duration, observer Observer) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout, observer: observer}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// call bounds ctx by the store timeout and reports the call duration when done.
func (s *PostgresStore) call(ctx context.Context, op string) (context.Context, func()) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, func() {
		cancel()
		if s.observer != nil {
			s.observer.ObserveGateway(op, started)
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, done := s.call(ctx, "ping")
	defer done()
	return apperr.Persistence("ping database", s.db.PingContext(ctx))
}

var probeQueries = map[string]string{
	"users":            `SELECT 1 FROM users LIMIT 1`,
	"conversations":    `SELECT 1 FROM conversations LIMIT 1`,
	"messages":         `SELECT 1 FROM messages LIMIT 1`,
	"activity_records": `SELECT 1 FROM activity_records LIMIT 1`,
	"attendances":      `SELECT 1 FROM attendances LIMIT 1`,
}

// ProbeTables lists the tables ProbeTable accepts.
func ProbeTables() []string {
	return []string{"conversations", "messages", "attendances", "activity_records", "users"}
}

// ProbeTable checks that table is readable.
func (s *PostgresStore) ProbeTable(ctx context.Context, table string) error {
	query, ok := probeQueries[table]
	if !ok {
		return fmt.Errorf("probe table %s: unknown table", table)
	}
	ctx, done := s.call(ctx, "probe_"+table)
	defer done()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return apperr.Persistence("probe "+table, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return apperr.Persistence("probe "+table, rows.Err())
}

const userColumns = `id, email, name, COALESCE(password_hash, ''), avatar, cpf_cnpj, active, reset_token_hash, reset_token_expires, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user        User
		avatar      sql.NullString
		cpfCNPJ     sql.NullString
		resetHash   sql.NullString
		resetExpiry sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &avatar, &cpfCNPJ, &user.Active, &resetHash, &resetExpiry, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	user.Avatar = nullString(avatar)
	user.CPFCNPJ = nullString(cpfCNPJ)
	user.ResetTokenHash = nullString(resetHash)
	user.ResetTokenExpires = nullTime(resetExpiry)
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	ctx, done := s.call(ctx, "get_user_by_email")
	defer done()

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	if err != nil {
		return User{}, apperr.Persistence("get user by email", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	ctx, done := s.call(ctx, "get_user_by_id")
	defer done()

	if !validID(id) {
		return User{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return User{}, apperr.Persistence("get user by id", err)
	}
	return user, nil
}

// CreateUser inserts user with a lowercased email. A duplicate email maps to apperr.ErrEmailTaken.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	ctx, done := s.call(ctx, "create_user")
	defer done()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, avatar, cpf_cnpj, active)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.ID, strings.TrimSpace(user.Email), user.Name, user.PasswordHash, user.Avatar, user.CPFCNPJ, user.Active,
	)
	created, err := scanUser(row)
	if isUniqueViolation(err) {
		return User{}, apperr.ErrEmailTaken
	}
	if err != nil {
		return User{}, apperr.Persistence("create user", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (User, error) {
	ctx, done := s.call(ctx, "update_profile")
	defer done()

	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			avatar = CASE WHEN $3::boolean THEN $4 ELSE avatar END,
			cpf_cnpj = CASE WHEN $5::boolean THEN $6 ELSE cpf_cnpj END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, patch.Name, patch.Avatar != nil, patch.Avatar, patch.CPFCNPJ != nil, patch.CPFCNPJ,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return User{}, apperr.Persistence("update profile", err)
	}
	return user, nil
}

// SetResetToken replaces any outstanding reset token for the user.
func (s *PostgresStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	ctx, done := s.call(ctx, "set_reset_token")
	defer done()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token_hash = $2, reset_token_expires = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return apperr.Persistence("set reset token", err)
	}
	return requireAffected(res, "user "+userID)
}

// ConsumeResetToken clears a live token in the same statement that matches it,
// so a token can be consumed at most once.
func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	ctx, done := s.call(ctx, "consume_reset_token")
	defer done()

	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET reset_token_hash = NULL, reset_token_expires = NULL, updated_at = NOW()
		WHERE reset_token_hash = $1 AND reset_token_expires > $2
		RETURNING id
	`, tokenHash, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", apperr.Persistence("consume reset token", err)
	}
	return userID, nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	ctx, done := s.call(ctx, "update_password")
	defer done()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return apperr.Persistence("update password", err)
	}
	return requireAffected(res, "user "+userID)
}

func (s *PostgresStore) SetUserActive(ctx context.Context, userID string, active bool) error {
	ctx, done := s.call(ctx, "set_user_active")
	defer done()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = $2, updated_at = NOW() WHERE id = $1`, userID, active)
	if err != nil {
		return apperr.Persistence("set user active", err)
	}
	return requireAffected(res, "user "+userID)
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ctx, done := s.call(ctx, "stats")
	defer done()

	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			(SELECT COUNT(*) FROM attendances)
		FROM conversations
	`).Scan(&stats.Total, &stats.Pending, &stats.Approved, &stats.Rejected, &stats.Attendances)
	if err != nil {
		return Stats{}, apperr.Persistence("stats", err)
	}
	return stats, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
