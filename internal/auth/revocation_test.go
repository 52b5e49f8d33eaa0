package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRevocations_Hash(t *testing.T) {
	env := newTestEnv(t)

	h := env.revocations.Hash("some-credential")
	if len(h) != 64 {
		t.Errorf("Hash() length = %d, want 64", len(h))
	}
	if h != env.revocations.Hash("some-credential") {
		t.Error("Hash() should be deterministic")
	}
	if h == env.revocations.Hash("other-credential") {
		t.Error("different inputs should hash differently")
	}
}

func TestRevocations_BlacklistUsesCredentialExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	raw, _ := env.access.Issue("U1", "u1@example.com", RoleUser)
	if err := env.revocations.Blacklist(ctx, raw, "U1", ReasonLogout, TokenTypeAccess); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	entries := revocationsFor(t, env, "U1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TokenHash != HashToken(raw) {
		t.Errorf("TokenHash = %q, want digest of credential", e.TokenHash)
	}
	if e.Reason != ReasonLogout || e.TokenType != TokenTypeAccess {
		t.Errorf("entry = %s/%s, want logout/access", e.Reason, e.TokenType)
	}
	if want := env.clock.Now().Add(time.Hour); !e.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, want)
	}
}

func TestRevocations_BlacklistFallbackExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.revocations.Blacklist(ctx, "opaque-undecodable", "U1", ReasonSecurity, TokenTypeRefresh); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	entries := revocationsFor(t, env, "U1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if want := env.clock.Now().Add(DefaultFallbackWindow); !entries[0].ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", entries[0].ExpiresAt, want)
	}
}

func TestRevocations_BlacklistCapsUnverifiedExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Signed with a foreign key: the expiry is only ever peeked, never trusted.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)),
	}).SignedString([]byte("some-other-signing-key-of-32-bytes!"))
	if err != nil {
		t.Fatalf("signing forged credential: %v", err)
	}

	if err := env.revocations.Blacklist(ctx, forged, "U1", ReasonSecurity, TokenTypeAccess); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	entries := revocationsFor(t, env, "U1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 live entry", len(entries))
	}
	if want := env.clock.Now().Add(DefaultMaxLifetime); !entries[0].ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", entries[0].ExpiresAt, want)
	}
	revoked, err := env.revocations.IsBlacklisted(ctx, forged)
	if err != nil || !revoked {
		t.Errorf("IsBlacklisted() = %v, %v; want true, nil", revoked, err)
	}
}

func TestRevocations_BlacklistKeepsRefreshExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issued, err := env.refresh.Issue("U1", ClientInfo{})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := env.revocations.Blacklist(ctx, issued.Token, "U1", ReasonLogout, TokenTypeRefresh); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	entries := revocationsFor(t, env, "U1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want the credential's own expiry %v", entries[0].ExpiresAt, issued.ExpiresAt)
	}
}

func TestRevocations_BlacklistIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raw, _ := env.access.Issue("U1", "u1@example.com", RoleUser)

	for i := 0; i < 3; i++ {
		if err := env.revocations.Blacklist(ctx, raw, "U1", ReasonLogout, TokenTypeAccess); err != nil {
			t.Fatalf("Blacklist() call %d error = %v", i+1, err)
		}
	}

	if got := len(revocationsFor(t, env, "U1")); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
	revoked, err := env.revocations.IsBlacklisted(ctx, raw)
	if err != nil || !revoked {
		t.Errorf("IsBlacklisted() = %v, %v; want true, nil", revoked, err)
	}
}

func TestRevocations_BlacklistInvalidReason(t *testing.T) {
	env := newTestEnv(t)

	err := env.revocations.Blacklist(context.Background(), "raw", "U1", Reason("bored"), TokenTypeAccess)
	if !errors.Is(err, ErrInvalidReason) {
		t.Errorf("Blacklist() error = %v, want ErrInvalidReason", err)
	}
}

func TestRevocations_IsBlacklistedHonoursExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raw, _ := env.access.Issue("U1", "u1@example.com", RoleUser)

	revoked, _ := env.revocations.IsBlacklisted(ctx, raw)
	if revoked {
		t.Fatal("IsBlacklisted() = true before Blacklist")
	}

	_ = env.revocations.Blacklist(ctx, raw, "U1", ReasonLogout, TokenTypeAccess)

	env.clock.Advance(59 * time.Minute)
	if revoked, _ := env.revocations.IsBlacklisted(ctx, raw); !revoked {
		t.Error("IsBlacklisted() = false before entry expiry")
	}

	env.clock.Advance(time.Minute)
	if revoked, _ := env.revocations.IsBlacklisted(ctx, raw); revoked {
		t.Error("IsBlacklisted() = true at entry expiry")
	}
}

func TestRevocations_SentinelDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.revocations.SentinelDeactivate(ctx, "U1"); err != nil {
		t.Fatalf("SentinelDeactivate() error = %v", err)
	}
	if err := env.revocations.SentinelDeactivate(ctx, "U1"); err != nil {
		t.Fatalf("SentinelDeactivate() second call error = %v", err)
	}

	entries := revocationsFor(t, env, "U1")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 distinct sentinels", len(entries))
	}
	for _, e := range entries {
		if e.Reason != ReasonAccountDeactivated {
			t.Errorf("Reason = %q, want %q", e.Reason, ReasonAccountDeactivated)
		}
		if want := env.clock.Now().Add(DefaultSentinelTTL); !e.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, want)
		}
	}
	if entries[0].TokenHash == entries[1].TokenHash {
		t.Error("sentinel digests should be unique")
	}
}

func TestRevocations_BlacklistAllForSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if got := env.revocations.BlacklistAllForSubject(ctx, "U1", ReasonAdminRevoke); got != 0 {
		t.Errorf("BlacklistAllForSubject() = %d, want 0", got)
	}

	a, _ := env.access.Issue("U1", "u1@example.com", RoleUser)
	b, _ := env.access.Issue("U1", "u1@example.com", RoleUser)
	c, _ := env.access.Issue("U2", "u2@example.com", RoleUser)
	_ = env.revocations.Blacklist(ctx, a, "U1", ReasonLogout, TokenTypeAccess)
	_ = env.revocations.Blacklist(ctx, b, "U1", ReasonLogout, TokenTypeAccess)
	_ = env.revocations.Blacklist(ctx, c, "U2", ReasonLogout, TokenTypeAccess)

	if got := env.revocations.BlacklistAllForSubject(ctx, "U1", ReasonAdminRevoke); got != 2 {
		t.Errorf("BlacklistAllForSubject() = %d, want 2", got)
	}
}

// failingRevocationRepo fails every call.
type failingRevocationRepo struct{ err error }

func (f failingRevocationRepo) Insert(context.Context, *RevocationEntry) (bool, error) {
	return false, f.err
}

func (f failingRevocationRepo) ExistsLive(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}

func (f failingRevocationRepo) CountLiveForOwner(context.Context, string, time.Time) (int, error) {
	return 0, f.err
}

func (f failingRevocationRepo) ListLiveForOwner(context.Context, string, time.Time) ([]RevocationEntry, error) {
	return nil, f.err
}

func (f failingRevocationRepo) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

func TestRevocations_StoreFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	storeErr := errors.New("disk I/O error")
	revs := NewRevocations(failingRevocationRepo{err: storeErr}, env.codec, RevocationOptions{}, env.logger())

	if err := revs.Blacklist(ctx, "raw", "U1", ReasonLogout, TokenTypeAccess); !errors.Is(err, storeErr) {
		t.Errorf("Blacklist() error = %v, want store error", err)
	}
	if _, err := revs.IsBlacklisted(ctx, "raw"); !errors.Is(err, storeErr) {
		t.Errorf("IsBlacklisted() error = %v, want store error", err)
	}
	// Never fails.
	if got := revs.BlacklistAllForSubject(ctx, "U1", ReasonSecurity); got != 0 {
		t.Errorf("BlacklistAllForSubject() = %d, want 0", got)
	}
}

func TestRevocations_SweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	short, _ := env.access.Issue("U1", "u1@example.com", RoleUser)
	_ = env.revocations.Blacklist(ctx, short, "U1", ReasonLogout, TokenTypeAccess)
	_ = env.revocations.Blacklist(ctx, "undecodable", "U1", ReasonSecurity, TokenTypeAccess)

	n, err := env.revocations.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 0 {
		t.Errorf("SweepExpired() = %d, want 0 while all entries are live", n)
	}

	env.clock.Advance(2 * time.Hour)
	n, _ = env.revocations.SweepExpired(ctx)
	if n != 1 {
		t.Errorf("SweepExpired() = %d, want 1", n)
	}
	if got := len(revocationsFor(t, env, "U1")); got != 1 {
		t.Errorf("remaining entries = %d, want 1", got)
	}
}

func TestRevocations_RunSweeperStops(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.revocations.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
