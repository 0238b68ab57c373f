package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/afero"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("DOCFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DOCFLOW_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, afero.NewOsFs(), migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresStoreContract(t *testing.T) {
	s := openTestDB(t)
	runStoreContract(t, s, "pg")
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	fs := afero.NewOsFs()

	for {
		version, err := RollbackMigration(ctx, s.DB(), fs, migrationsDir)
		if err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if version == "" {
			break
		}
	}
	applied, err := ApplyMigrations(ctx, s.DB(), fs, migrationsDir)
	if err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	if len(applied) < 2 {
		t.Fatalf("expected every migration to be reapplied, got %v", applied)
	}
}

func TestTaskTimelineImmutabilityBlocksUpdateAndDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	runStoreContract(t, s, "immut")

	for _, statement := range []string{
		`UPDATE task_timeline SET note='rewritten' WHERE task_id='task_contract_immut'`,
		`DELETE FROM task_timeline WHERE task_id='task_contract_immut'`,
	} {
		_, err := s.DB().ExecContext(ctx, statement)
		if err == nil {
			t.Fatalf("expected %q to be blocked", statement)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			t.Fatalf("expected PostgreSQL error, got: %v", err)
		}
		if pgErr.SQLState() != "55000" {
			t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
		}
	}
}
