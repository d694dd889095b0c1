// Package pgtest starts a disposable Postgres for integration tests.
//
// Tests using it are opt-in: set MOTION_TESTCONTAINERS=1 (Docker required). Each call gets a fresh
// schema with all migrations applied; the container is shared per test binary.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"motionhub/cmd/identity/ids"
	"motionhub/cmd/internal/migrations"
)

const EnableEnv = "MOTION_TESTCONTAINERS"

var (
	once    sync.Once
	connStr string
	initErr error
)

// DB is a migrated schema inside the shared container.
type DB struct {
	Pool   *pgxpool.Pool
	URL    string
	Schema string
}

// Start returns a migrated, empty schema. It skips the test unless EnableEnv is set.
func Start(t testing.TB) DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv(EnableEnv)) != "1" {
		t.Skipf("set %s=1 to run Postgres integration tests", EnableEnv)
	}

	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		c, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("motion"),
			postgres.WithUsername("motion"),
			postgres.WithPassword("motion"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			initErr = fmt.Errorf("start postgres: %w", err)
			return
		}
		// The container is reaped by testcontainers' ryuk when the test binary exits.
		connStr, initErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	if initErr != nil {
		t.Fatalf("pgtest: %v", initErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgtest: pool: %v", err)
	}
	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("pgtest: schema id: %v", err)
	}
	schema := "t_" + strings.ToLower(id)
	if err := migrations.Up(ctx, pool, connStr, schema, nil); err != nil {
		pool.Close()
		t.Fatalf("pgtest: migrate: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		pool.Close()
	})
	return DB{Pool: pool, URL: connStr, Schema: schema}
}
