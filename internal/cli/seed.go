package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"triage/api/internal/apperr"
	"triage/api/internal/credential"
	"triage/api/internal/store"
)

var (
	seedEmail    string
	seedPassword string
	seedName     string
)

var seedUserCmd = &cobra.Command{
	Use:   "seed-user",
	Short: "Create the demo operator account if it does not exist",
	Args:  cobra.NoArgs,
	RunE:  runSeedUser,
}

func init() {
	seedUserCmd.Flags().StringVar(&seedEmail, "email", "admin@teste.com", "account email")
	seedUserCmd.Flags().StringVar(&seedPassword, "password", "123456", "account password")
	seedUserCmd.Flags().StringVar(&seedName, "name", "Administrador Teste", "display name")
}

// UserSeeder is the persistence seed-user needs.
type UserSeeder interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// SeedUser creates an active account unless one already uses email. It reports
// whether a new account was created.
func SeedUser(ctx context.Context, users UserSeeder, email, password, name string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := users.GetUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if err := credential.ValidatePassword(password); err != nil {
		return false, err
	}
	hash, err := credential.Hash(password)
	if err != nil {
		return false, err
	}
	_, err = users.CreateUser(ctx, store.User{Email: email, Name: strings.TrimSpace(name), PasswordHash: hash, Active: true})
	if errors.Is(err, apperr.ErrEmailTaken) {
		return false, nil
	}
	return err == nil, err
}

func runSeedUser(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, pg, err := openStore(ctx, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	created, err := SeedUser(ctx, pg, seedEmail, seedPassword, seedName)
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", seedEmail)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", seedEmail)
	}
	return nil
}
