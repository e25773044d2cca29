package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testDB        *sql.DB
	testDBSkipMsg = "set TRIAGE_TEST_DATABASE_URL or TRIAGE_TESTCONTAINERS=1 to run postgres tests"
)

func testMigrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

// TestMain connects to TRIAGE_TEST_DATABASE_URL, or starts a disposable postgres
// container when TRIAGE_TESTCONTAINERS=1. Without either, integration tests skip.
func TestMain(m *testing.M) {
	ctx := context.Background()

	var container testcontainers.Container
	dsn := strings.TrimSpace(os.Getenv("TRIAGE_TEST_DATABASE_URL"))
	if dsn == "" && os.Getenv("TRIAGE_TESTCONTAINERS") == "1" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		var err error
		container, dsn, err = startPostgres(ctx)
		if err != nil {
			log.Fatalf("start postgres container: %v", err)
		}
	}

	if dsn != "" {
		db, err := Open(ctx, dsn, 30*time.Second)
		if err != nil {
			log.Fatalf("open test database: %v", err)
		}
		if err := resetPublicSchema(ctx, db); err != nil {
			log.Fatalf("reset schema: %v", err)
		}
		if _, err := ApplyMigrations(ctx, db, testMigrationsDir()); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		testDB = db
	}

	code := m.Run()

	if testDB != nil {
		_ = testDB.Close()
	}
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "triage",
				"POSTGRES_PASSWORD": "triage",
				"POSTGRES_DB":       "triage",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return container, "", err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return container, "", err
	}
	return container, fmt.Sprintf("postgres://triage:triage@%s:%s/triage?sslmode=disable", host, port.Port()), nil
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

// newTestStore returns a store over a freshly truncated database.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testDB == nil {
		t.Skip(testDBSkipMsg)
	}
	_, err := testDB.ExecContext(context.Background(), `TRUNCATE users, conversations, messages, activity_records, attendances CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPostgresStore(testDB, 5*time.Second, nil)
}
