// Package dbtest starts a throwaway Postgres container for integration tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/penguhub/marketplace/config"
	"github.com/penguhub/marketplace/database"
)

// New returns a migrated database. The test is skipped when running with
// -short or when no Docker daemon is reachable.
func New(t *testing.T) *sqlx.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=pengu",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres container: %v", err)
		}
	})
	_ = resource.Expire(300)

	cfg := config.DB{
		User:         "postgres",
		Password:     "postgres",
		Host:         resource.GetHostPort("5432/tcp"),
		Name:         "pengu",
		MaxIdleConns: 5,
		MaxOpenConns: 20,
		DisableTLS:   true,
	}

	var db *sqlx.DB
	pool.MaxWait = 60 * time.Second
	err = pool.Retry(func() error {
		var err error
		db, err = database.Open(cfg)
		if err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

// SeedUser inserts a user row and returns its id.
func SeedUser(t *testing.T, db *sqlx.DB, id, role string, credits int64) string {
	t.Helper()
	const q = `INSERT INTO users (user_id, name, email, role, pengu_credits) VALUES ($1, $2, $3, $4, $5)`
	if _, err := db.Exec(q, id, "user "+id[:8], fmt.Sprintf("%s@pengu.test", id[:8]), role, credits); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return id
}
