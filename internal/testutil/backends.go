// Package testutil connects tests to the optional Postgres and Redis
// backends named by TEST_POSTGRES_DSN and TEST_REDIS_ADDR. Tests skip when
// the backend is not configured.
package testutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"realtime-room/internal/config"
	"realtime-room/internal/ids"
	"realtime-room/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func loadTest(t *testing.T) config.TestConfig {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip: test backends: %v", err)
	}
	return cfg
}

// PostgresDSN returns the test database DSN or skips the test.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := loadTest(t).TestPostgresDSN
	if dsn == "" {
		t.Skip("skip postgres: TEST_POSTGRES_DSN not set")
	}
	return dsn
}

// RedisAddr returns the test Redis address or skips the test.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := loadTest(t).TestRedisAddr
	if addr == "" {
		t.Skip("skip redis: TEST_REDIS_ADDR not set")
	}
	return addr
}

// OpenStore returns a history store migrated into a schema of its own. The
// schema is dropped when the test ends.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := PostgresDSN(t)
	ctx := context.Background()

	schema := pgx.Identifier{"roomsync_test_" + strings.ToLower(ids.NewID())}.Sanitize()
	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(admin.Close)
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
	})

	st, err := store.New(inSchema(dsn, strings.Trim(schema, `"`)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

// inSchema points every pooled connection at schema. Both URL and
// keyword/value DSNs are accepted.
func inSchema(dsn, schema string) string {
	if !strings.Contains(dsn, "://") {
		return dsn + " search_path=" + schema
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}
