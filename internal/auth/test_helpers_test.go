package auth

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studysync/authcore/internal/infrastructure/config"
	"github.com/studysync/authcore/internal/infrastructure/database"
	"github.com/studysync/authcore/internal/infrastructure/logging"
	"github.com/studysync/authcore/migrations"
)

const testSecret = "test-secret-key-at-least-32-chars!"

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testDB opens a temp-file SQLite database with the real migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// testEnv is a fully wired auth core over a temp database and a fake clock.
type testEnv struct {
	db            *database.DB
	clock         *fakeClock
	codec         *Codec
	users         *SQLiteUserRepository
	revocationsDB *SQLiteRevocationRepository
	revocations   *Revocations
	access        *AccessTokens
	refresh       *RefreshTokens
	authn         *Authenticator
	service       *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	clock := newFakeClock()
	logger := logging.Discard()

	codec, err := NewCodec(testSecret, clock.Now)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	env := &testEnv{
		db:            db,
		clock:         clock,
		codec:         codec,
		users:         NewUserRepository(db.DB, clock.Now),
		revocationsDB: NewRevocationRepository(db.DB),
	}
	env.revocations = NewRevocations(env.revocationsDB, codec, RevocationOptions{}, logger)
	env.access = NewAccessTokens(codec, time.Hour)
	env.refresh = NewRefreshTokens(codec, 30*24*time.Hour, env.users, logger)
	env.authn = NewAuthenticator(env.revocations, env.access, env.users, clock.Now, logger)
	env.service = NewService(env.access, env.refresh, env.revocations, env.users, logger)

	t.Cleanup(env.authn.Drain)
	return env
}

// seedTestUser inserts an active user with password "test-password".
func seedTestUser(t *testing.T, env *testEnv, email string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &User{
		Email:        email,
		Name:         email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// revocationsFor returns the live entries for ownerID.
func revocationsFor(t *testing.T, env *testEnv, ownerID string) []RevocationEntry {
	t.Helper()
	entries, err := env.revocations.ListForSubject(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ListForSubject() error = %v", err)
	}
	return entries
}

func (e *testEnv) logger() *logging.Logger {
	return logging.Discard()
}
