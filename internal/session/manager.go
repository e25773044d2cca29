package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/credential"
	"triage/api/internal/store"
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// UserStore is the persistence the manager needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (store.User, error)
}

type Recorder interface {
	Record(ctx context.Context, entry store.Activity) (store.Activity, error)
}

// User is the public view of an account; it never carries the password hash.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    *string   `json:"avatar,omitempty"`
	CPFCNPJ   *string   `json:"cpfCnpj,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func publicUser(u store.User) User {
	return User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Avatar:    u.Avatar,
		CPFCNPJ:   u.CPFCNPJ,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Identity is the current session: the user plus the id every issued token is bound to.
type Identity struct {
	User      User
	SessionID string
}

// ProfilePatch carries the fields updateProfile may change. Nil leaves a field as is.
type ProfilePatch struct {
	Name    *string
	Avatar  *string
	CPFCNPJ *string
	Email   *string
}

// Manager is the single owner of session state. Transitions are serialized by ops;
// reads take mu only.
type Manager struct {
	users     UserStore
	snapshots SnapshotStore
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	ops     sync.Mutex
	mu      sync.RWMutex
	state   State
	current *Identity
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(users UserStore, snapshots SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		users:     users,
		snapshots: snapshots,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if m.snapshots == nil {
		m.snapshots = NewMemorySnapshotStore()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the authenticated identity, if any.
func (m *Manager) Current() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Identity{}, false
	}
	return *m.current, true
}

func (m *Manager) setState(state State, id *Identity) {
	m.mu.Lock()
	m.state = state
	m.current = id
	m.mu.Unlock()
}

// beginAuth moves to Authenticating and returns a func restoring the prior state on failure.
func (m *Manager) beginAuth() func() {
	m.mu.Lock()
	prevState, prev := m.state, m.current
	m.state = Authenticating
	m.mu.Unlock()
	return func() { m.setState(prevState, prev) }
}

// Login authenticates email and password and replaces any current session.
func (m *Manager) Login(ctx context.Context, email, password string) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	rollback := m.beginAuth()
	user, err := m.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		rollback()
		return Identity{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		rollback()
		return Identity{}, err
	}
	if !user.Active {
		rollback()
		return Identity{}, apperr.ErrAccountInactive
	}
	if user.PasswordHash == "" || !credential.Verify(password, user.PasswordHash) {
		rollback()
		return Identity{}, apperr.ErrInvalidCredentials
	}

	id, err := m.establish(ctx, user)
	if err != nil {
		rollback()
		return Identity{}, err
	}
	m.logger.Info("operator logged in", zap.String("user_id", user.ID))
	return id, nil
}

// Register creates an active account and logs it in.
func (m *Manager) Register(ctx context.Context, email, password, name string) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return Identity{}, apperr.Invalid("email", "must be a valid address")
	case name == "":
		return Identity{}, apperr.Invalid("name", "is required")
	}
	if err := credential.ValidatePassword(password); err != nil {
		return Identity{}, err
	}

	rollback := m.beginAuth()
	if _, err := m.users.GetUserByEmail(ctx, email); err == nil {
		rollback()
		return Identity{}, apperr.ErrEmailTaken
	} else if !errors.Is(err, apperr.ErrNotFound) {
		rollback()
		return Identity{}, err
	}

	hash, err := credential.Hash(password)
	if err != nil {
		rollback()
		return Identity{}, err
	}
	user, err := m.users.CreateUser(ctx, store.User{Email: email, Name: name, PasswordHash: hash, Active: true})
	if err != nil {
		rollback()
		return Identity{}, err
	}

	id, err := m.establish(ctx, user)
	if err != nil {
		rollback()
		return Identity{}, err
	}
	m.record(ctx, store.Activity{Type: "user_registered", Title: "Nova conta: " + user.Name, Avatar: user.Avatar})
	m.logger.Info("operator registered", zap.String("user_id", user.ID))
	return id, nil
}

// Logout clears the session and its snapshot. Calling it while logged out is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.destroy(ctx)
}

// Restore reloads the session named by the durable snapshot. A snapshot whose user
// is missing or inactive is discarded. Business fields always come from the store.
func (m *Manager) Restore(ctx context.Context) (Identity, bool, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	snap, ok, err := m.snapshots.Load(ctx)
	if err != nil {
		return Identity{}, false, err
	}
	if !ok || snap.UserID == "" || snap.SessionID == "" {
		m.setState(Unauthenticated, nil)
		return Identity{}, false, nil
	}

	user, err := m.users.GetUserByID(ctx, snap.UserID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && !user.Active) {
		m.logger.Info("discarding stale session snapshot", zap.String("user_id", snap.UserID))
		return Identity{}, false, m.destroy(ctx)
	}
	if err != nil {
		return Identity{}, false, err
	}

	id := Identity{User: publicUser(user), SessionID: snap.SessionID}
	if err := m.snapshots.Save(ctx, m.snapshot(id)); err != nil {
		return Identity{}, false, err
	}
	m.setState(Authenticated, &id)
	return id, true, nil
}

// Revalidate re-reads the current user and destroys the session if it is gone or
// inactive. It reports whether a session is still active.
func (m *Manager) Revalidate(ctx context.Context) (bool, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	current, ok := m.Current()
	if !ok {
		return false, nil
	}
	user, err := m.users.GetUserByID(ctx, current.User.ID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && !user.Active) {
		m.logger.Warn("session revoked by revalidation", zap.String("user_id", current.User.ID))
		return false, m.destroy(ctx)
	}
	if err != nil {
		return true, err
	}
	current.User = publicUser(user)
	m.setState(Authenticated, &current)
	return true, nil
}

// RunRevalidation calls Revalidate every interval until ctx is done.
func (m *Manager) RunRevalidation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Revalidate(ctx); err != nil {
				m.logger.Warn("revalidate session", zap.Error(err))
			}
		}
	}
}

// UpdateProfile writes patch to the current user and refreshes the session from the result.
// Email is immutable; a patch naming a different address is rejected.
func (m *Manager) UpdateProfile(ctx context.Context, patch ProfilePatch) (Identity, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	current, ok := m.Current()
	if !ok {
		return Identity{}, apperr.ErrNotAuthenticated
	}
	if patch.Email != nil && normalizeEmail(*patch.Email) != current.User.Email {
		return Identity{}, apperr.Invalid("email", "cannot be changed")
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return Identity{}, apperr.Invalid("name", "must not be empty")
		}
		patch.Name = &trimmed
	}

	user, err := m.users.UpdateProfile(ctx, current.User.ID, store.ProfilePatch{
		Name:    patch.Name,
		Avatar:  patch.Avatar,
		CPFCNPJ: patch.CPFCNPJ,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("update profile: %w", err)
	}
	current.User = publicUser(user)
	if err := m.snapshots.Save(ctx, m.snapshot(current)); err != nil {
		return Identity{}, err
	}
	m.setState(Authenticated, &current)
	return current, nil
}

// Verify reports whether userID and sessionID name the current session.
func (m *Manager) Verify(userID, sessionID string) (Identity, error) {
	current, ok := m.Current()
	if !ok || current.User.ID != userID || current.SessionID != sessionID {
		return Identity{}, apperr.ErrNotAuthenticated
	}
	return current, nil
}

func (m *Manager) establish(ctx context.Context, user store.User) (Identity, error) {
	id := Identity{User: publicUser(user), SessionID: m.newID()}
	if err := m.snapshots.Save(ctx, m.snapshot(id)); err != nil {
		return Identity{}, err
	}
	m.setState(Authenticated, &id)
	return id, nil
}

func (m *Manager) destroy(ctx context.Context) error {
	m.setState(Unauthenticated, nil)
	return m.snapshots.Clear(ctx)
}

func (m *Manager) snapshot(id Identity) Snapshot {
	return Snapshot{
		UserID:    id.User.ID,
		SessionID: id.SessionID,
		Email:     id.User.Email,
		Name:      id.User.Name,
		Avatar:    id.User.Avatar,
		CPFCNPJ:   id.User.CPFCNPJ,
		SavedAt:   m.now().UTC(),
	}
}

func (m *Manager) record(ctx context.Context, entry store.Activity) {
	if m.recorder == nil {
		return
	}
	if _, err := m.recorder.Record(ctx, entry); err != nil {
		m.logger.Warn("record session activity", zap.String("type", entry.Type), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
