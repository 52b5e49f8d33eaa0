package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
	"github.com/studysync/authcore/internal/infrastructure/config"
	"github.com/studysync/authcore/internal/infrastructure/database"
	"github.com/studysync/authcore/internal/infrastructure/logging"
	"github.com/studysync/authcore/internal/infrastructure/mqtt"
	"github.com/studysync/authcore/internal/presence"
	"github.com/studysync/authcore/migrations"
)

const testPassword = "test-password"

// fakeBroker records publishes and subscriptions in place of an MQTT client.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic    string
	payload  any
	retained bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) PublishJSON(topic string, v any, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic: topic, payload: v, retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) IsConnected() bool { return true }

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

// presenceEvents returns the presence events published for subjectID.
func (b *fakeBroker) presenceEvents(subjectID string) []mqtt.PresenceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var events []mqtt.PresenceEvent
	for _, m := range b.published {
		if m.topic != (mqtt.Topics{}).Presence(subjectID) {
			continue
		}
		if ev, ok := m.payload.(mqtt.PresenceEvent); ok {
			events = append(events, ev)
		}
	}
	return events
}

// fakeTelemetry records outcome points in place of InfluxDB.
type fakeTelemetry struct {
	mu       sync.Mutex
	outcomes []string
	presence []int
}

func (f *fakeTelemetry) WriteAuthOutcome(transport, outcome string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, transport+"/"+outcome)
}

func (f *fakeTelemetry) WritePresence(subjects int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, subjects)
}

func (f *fakeTelemetry) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

// testStack is a Server wired to a real auth core over temp-file SQLite.
type testStack struct {
	srv       *Server
	router    http.Handler
	users     *auth.SQLiteUserRepository
	sessions  *auth.Service
	authn     *auth.Authenticator
	broker    *fakeBroker
	telemetry *fakeTelemetry
}

func newTestStack(t *testing.T, mutate ...func(*Deps)) *testStack {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	codec, err := auth.NewCodec("test-secret-key-at-least-32-characters-long", nil)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	users := auth.NewUserRepository(db.DB, nil)
	revocations := auth.NewRevocations(auth.NewRevocationRepository(db.DB), codec, auth.RevocationOptions{}, log)
	access := auth.NewAccessTokens(codec, time.Hour)
	refresh := auth.NewRefreshTokens(codec, 24*time.Hour, users, log)
	authn := auth.NewAuthenticator(revocations, access, users, nil, log)
	sessions := auth.NewService(access, refresh, revocations, users, log)
	t.Cleanup(authn.Drain)

	broker := newFakeBroker()
	telemetry := &fakeTelemetry{}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:        log,
		Authenticator: authn,
		Sessions:      sessions,
		Revocations:   revocations,
		Presence:      presence.NewRegistry(),
		Audit:         audit.NewSQLiteRepository(db.DB, nil),
		DB:            db,
		MQTT:          broker,
		Telemetry:     telemetry,
		Version:       "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	go srv.hub.Run(hubCtx)
	t.Cleanup(cancel)

	return &testStack{
		srv:       srv,
		router:    srv.buildRouter(),
		users:     users,
		sessions:  sessions,
		authn:     authn,
		broker:    broker,
		telemetry: telemetry,
	}
}

// seedUser creates an active account with testPassword.
func (ts *testStack) seedUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{Email: email, Name: email, PasswordHash: hash, Role: role, IsActive: true}
	if err := ts.users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

// pairFor issues credentials for u without going through login.
func (ts *testStack) pairFor(t *testing.T, u *auth.User) *auth.TokenPair {
	t.Helper()
	pair, err := ts.sessions.IssuePair(u.ID, u.Email, u.Role, auth.ClientInfo{Device: "test"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	return pair
}

// do sends a request through the router. body is JSON-encoded when non-nil.
func (ts *testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// decodeError parses a structured error body.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return e
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
