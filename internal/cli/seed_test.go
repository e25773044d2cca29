package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"triage/api/internal/apperr"
	"triage/api/internal/credential"
	"triage/api/internal/store"
)

type memUsers struct {
	byEmail map[string]store.User
	creates int
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return store.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) CreateUser(_ context.Context, u store.User) (store.User, error) {
	m.creates++
	m.byEmail[u.Email] = u
	return u, nil
}

func TestSeedUserIsIdempotent(t *testing.T) {
	users := &memUsers{byEmail: map[string]store.User{}}
	ctx := context.Background()

	created, err := SeedUser(ctx, users, "Admin@Teste.com", "123456", "Administrador Teste")
	if err != nil || !created {
		t.Fatalf("first SeedUser() = %v, %v", created, err)
	}
	created, err = SeedUser(ctx, users, "admin@teste.com", "123456", "Administrador Teste")
	if err != nil || created {
		t.Fatalf("second SeedUser() = %v, %v", created, err)
	}
	if users.creates != 1 {
		t.Fatalf("creates = %d, want 1", users.creates)
	}

	u := users.byEmail["admin@teste.com"]
	if !u.Active || u.Name != "Administrador Teste" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !credential.Verify("123456", u.PasswordHash) {
		t.Fatal("stored hash does not verify")
	}
}

func TestSeedUserRejectsShortPassword(t *testing.T) {
	users := &memUsers{byEmail: map[string]store.User{}}
	_, err := SeedUser(context.Background(), users, "x@teste.com", "123", "X")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if users.creates != 0 {
		t.Fatal("user should not be created")
	}
}
