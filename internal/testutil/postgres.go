// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestStore(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
	"github.com/murtaza-nasir/speakr-sub000/migrations"
)

// NewTestStore starts a Postgres testcontainer, runs all migrations, and
// returns a Store backed by it. The container and pool are cleaned up via
// t.Cleanup.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("speakr_test"),
		tcpostgres.WithUsername("speakr_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	// Run migrations using the same pattern as cmd/speakr/main.go runMigrate.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}

	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse db url: %v", err)
	}
	// Simple query protocol lets postgres execute multi-statement migration
	// files natively, each statement in its own autocommit.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		t.Fatalf("migration driver: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	return store.New(pool)
}

// SeedUser inserts a user row and returns its id.
func SeedUser(t *testing.T, s *store.Store, name string) uuid.UUID {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name+"@example.com", name)
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u.ID
}

// SeedRecording inserts a recording row owned by ownerID with no jobs
// attached, so tests control exactly what sits in the queue. The audio path
// is fake; tests that exercise the filesystem supply their own.
func SeedRecording(t *testing.T, s *store.Store, ownerID uuid.UUID, title string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.DB().QueryRowContext(context.Background(), `
		INSERT INTO recordings (owner_id, title, audio_path)
		VALUES ($1, $2, $3)
		RETURNING id`,
		ownerID, title, "/nonexistent/"+uuid.NewString()+".mp3",
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed recording %s: %v", title, err)
	}
	return id
}
