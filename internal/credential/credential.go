// Package credential hashes operator passwords and manages single-use reset tokens.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

const (
	// Cost is the bcrypt work factor for every stored hash.
	Cost = 10
	// ResetTokenTTL is how long an issued reset token stays valid.
	ResetTokenTTL   = time.Hour
	MinPasswordLen  = 6
	resetTokenBytes = 32
)

// Store is the persistence the credential service needs.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// ResetNotifier delivers a freshly issued reset token to its owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user store.User, token string, expiresAt time.Time) error
}

// Recorder appends an entry to the activity feed.
type Recorder interface {
	Record(ctx context.Context, entry store.Activity) (store.Activity, error)
}

type ResetToken struct {
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	store    Store
	notifier ResetNotifier
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n ResetNotifier) Option { return func(s *Service) { s.notifier = n } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hash returns the bcrypt hash of password at Cost.
func Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed or empty hash is a mismatch.
func Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword rejects passwords too short to store.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return apperr.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > 72 {
		return apperr.Invalid("password", "must be at most 72 bytes")
	}
	return nil
}

// IssueResetToken stores a new token for userID, replacing any outstanding one.
// Only the token's sha256 digest is persisted.
func (s *Service) IssueResetToken(ctx context.Context, userID string) (ResetToken, error) {
	token, err := generateToken()
	if err != nil {
		return ResetToken{}, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(ResetTokenTTL)
	if err := s.store.SetResetToken(ctx, userID, digest(token), expiresAt); err != nil {
		return ResetToken{}, fmt.Errorf("store reset token: %w", err)
	}
	return ResetToken{Token: token, ExpiresAt: expiresAt}, nil
}

// ConsumeResetToken returns the owning user id and clears the token. A token
// that is unknown, expired or already used fails with apperr.ErrInvalidOrExpiredToken.
func (s *Service) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.ErrInvalidOrExpiredToken
	}
	return s.store.ConsumeResetToken(ctx, digest(token), s.now())
}

// RequestPasswordReset issues and delivers a token for an active account. Unknown
// and inactive emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperr.Invalid("email", "is required")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	if !user.Active {
		s.logger.Info("password reset requested for inactive account", zap.String("user_id", user.ID))
		return nil
	}

	issued, err := s.IssueResetToken(ctx, user.ID)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyPasswordReset(ctx, user, issued.Token, issued.ExpiresAt); err != nil {
			return fmt.Errorf("notify password reset: %w", err)
		}
	}
	return nil
}

// ResetPassword consumes token and stores newPassword for its owner.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	userID, err := s.ConsumeResetToken(ctx, token)
	if err != nil {
		return err
	}
	hash, err := Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if s.recorder != nil {
		title := "Senha redefinida"
		if user, err := s.store.GetUserByID(ctx, userID); err == nil {
			title = "Senha redefinida para " + user.Name
		}
		if _, err := s.recorder.Record(ctx, store.Activity{Type: "password_reset", Title: title}); err != nil {
			s.logger.Warn("record password reset activity", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
