package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"triage/api/internal/apperr"
	"triage/api/internal/credential"
	"triage/api/internal/store"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]store.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]store.User{}}
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, apperr.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, u store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.User{}, apperr.ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id string, patch store.ProfilePatch) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, apperr.ErrNotFound
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Avatar != nil {
		u.Avatar = patch.Avatar
	}
	if patch.CPFCNPJ != nil {
		u.CPFCNPJ = patch.CPFCNPJ
	}
	u.UpdatedAt = time.Now()
	f.users[id] = u
	return u, nil
}

func (f *fakeUsers) setActive(id string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.Active = active
	f.users[id] = u
}

func addUser(t *testing.T, f *fakeUsers, email, password string, active bool) store.User {
	t.Helper()
	hash, err := credential.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := f.CreateUser(context.Background(), store.User{Email: email, Name: "Operator", PasswordHash: hash, Active: active})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

type recorderFunc func(store.Activity)

func (r recorderFunc) Record(_ context.Context, a store.Activity) (store.Activity, error) {
	r(a)
	return a, nil
}

func TestLoginFailures(t *testing.T) {
	users := newFakeUsers()
	addUser(t, users, "live@x.com", "secret123", true)
	addUser(t, users, "off@x.com", "secret123", false)
	if _, err := users.CreateUser(context.Background(), store.User{Email: "nohash@x.com", Name: "N", Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	m := NewManager(users, nil)
	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"unknown email", "ghost@x.com", "secret123", apperr.ErrInvalidCredentials},
		{"inactive", "off@x.com", "secret123", apperr.ErrAccountInactive},
		{"missing hash", "nohash@x.com", "secret123", apperr.ErrInvalidCredentials},
		{"wrong password", "live@x.com", "nope", apperr.ErrInvalidCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Login(context.Background(), tc.email, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if m.State() != Unauthenticated {
				t.Fatalf("expected unauthenticated, got %s", m.State())
			}
		})
	}
}

func TestRegisterThenLogin(t *testing.T) {
	users := newFakeUsers()
	var recorded []store.Activity
	m := NewManager(users, NewMemorySnapshotStore(), WithRecorder(recorderFunc(func(a store.Activity) { recorded = append(recorded, a) })))
	ctx := context.Background()

	reg, err := m.Register(ctx, "Jane@X.com", "secret123", "Jane Doe")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.User.Email != "jane@x.com" || !reg.User.Active {
		t.Fatalf("unexpected user %+v", reg.User)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected registration activity, got %d", len(recorded))
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	in, err := m.Login(ctx, "jane@x.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if in.User.ID != reg.User.ID {
		t.Fatalf("expected %s, got %s", reg.User.ID, in.User.ID)
	}
	if in.SessionID == reg.SessionID {
		t.Fatal("expected a fresh session id on login")
	}

	if _, err := m.Register(ctx, "JANE@x.com", "secret123", "Other"); !errors.Is(err, apperr.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if cur, ok := m.Current(); !ok || cur.SessionID != in.SessionID {
		t.Fatal("failed registration must not disturb the current session")
	}
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager(newFakeUsers(), nil)
	for _, tc := range []struct{ email, password, name string }{
		{"bad", "secret123", "X"},
		{"a@x.com", "secret123", "  "},
		{"a@x.com", "123", "X"},
	} {
		if _, err := m.Register(context.Background(), tc.email, tc.password, tc.name); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", tc, err)
		}
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	snaps := NewMemorySnapshotStore()
	m := NewManager(newFakeUsers(), snaps)
	for i := 0; i < 2; i++ {
		if err := m.Logout(context.Background()); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if _, ok := m.Current(); ok {
		t.Fatal("expected no session")
	}
}

func TestProfileUpdateSurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	users := newFakeUsers()
	ctx := context.Background()

	snaps, err := NewRedisSnapshotStore("redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	m := NewManager(users, snaps)
	if _, err := m.Register(ctx, "jane@x.com", "secret123", "Jane Doe"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Login(ctx, "jane@x.com", "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	name := "Jane D."
	updated, err := m.UpdateProfile(ctx, ProfilePatch{Name: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.User.Name != name {
		t.Fatalf("session not refreshed: %q", updated.User.Name)
	}

	restarted := NewManager(users, NewRedisSnapshotStoreWithClient(snaps.client, ""))
	restored, ok, err := restarted.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if restored.User.Name != name || restored.SessionID != updated.SessionID {
		t.Fatalf("unexpected restored identity %+v", restored)
	}
}

func TestRestoreTrustsOnlyIdentityFields(t *testing.T) {
	users := newFakeUsers()
	u := addUser(t, users, "a@x.com", "secret123", true)
	snaps := NewMemorySnapshotStore()
	_ = snaps.Save(context.Background(), Snapshot{UserID: u.ID, SessionID: "s1", Name: "Forged Name", Email: "forged@x.com"})

	m := NewManager(users, snaps)
	id, ok, err := m.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if id.User.Name != "Operator" || id.User.Email != "a@x.com" {
		t.Fatalf("snapshot business fields leaked: %+v", id.User)
	}
	saved, _, _ := snaps.Load(context.Background())
	if saved.Name != "Operator" {
		t.Fatalf("snapshot not refreshed: %+v", saved)
	}
}

func TestRestoreDiscardsInactiveOrMissingUser(t *testing.T) {
	users := newFakeUsers()
	u := addUser(t, users, "a@x.com", "secret123", false)

	for _, userID := range []string{u.ID, uuid.NewString()} {
		snaps := NewMemorySnapshotStore()
		_ = snaps.Save(context.Background(), Snapshot{UserID: userID, SessionID: "s1"})
		m := NewManager(users, snaps)

		_, ok, err := m.Restore(context.Background())
		if err != nil || ok {
			t.Fatalf("expected discarded snapshot, got ok=%v err=%v", ok, err)
		}
		if _, present, _ := snaps.Load(context.Background()); present {
			t.Fatal("expected snapshot cleared")
		}
	}
}

func TestRevalidateDestroysSessionForDeactivatedUser(t *testing.T) {
	users := newFakeUsers()
	u := addUser(t, users, "a@x.com", "secret123", true)
	m := NewManager(users, nil)
	ctx := context.Background()

	id, err := m.Login(ctx, "a@x.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if alive, err := m.Revalidate(ctx); err != nil || !alive {
		t.Fatalf("expected live session, got %v %v", alive, err)
	}
	if _, err := m.Verify(u.ID, id.SessionID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	users.setActive(u.ID, false)
	if alive, err := m.Revalidate(ctx); err != nil || alive {
		t.Fatalf("expected session destroyed, got %v %v", alive, err)
	}
	if _, err := m.Verify(u.ID, id.SessionID); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}

func TestUpdateProfileRules(t *testing.T) {
	users := newFakeUsers()
	addUser(t, users, "a@x.com", "secret123", true)
	m := NewManager(users, nil)
	ctx := context.Background()

	name := "New"
	if _, err := m.UpdateProfile(ctx, ProfilePatch{Name: &name}); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if _, err := m.Login(ctx, "a@x.com", "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}

	other := "b@x.com"
	if _, err := m.UpdateProfile(ctx, ProfilePatch{Email: &other}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected email change rejected, got %v", err)
	}
	same := " A@x.com"
	cpf := "123"
	id, err := m.UpdateProfile(ctx, ProfilePatch{Email: &same, CPFCNPJ: &cpf})
	if err != nil {
		t.Fatalf("unchanged email should pass: %v", err)
	}
	if id.User.CPFCNPJ == nil || *id.User.CPFCNPJ != cpf {
		t.Fatalf("cpf not applied: %+v", id.User)
	}
}
