package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func assertRejected(t *testing.T, id *Identity, rej *Rejection, kind RejectionKind, public PublicRejection) {
	t.Helper()
	if id != nil {
		t.Fatalf("Authenticate() identity = %+v, want nil", id)
	}
	if rej == nil {
		t.Fatalf("Authenticate() rejection = nil, want %s", kind)
	}
	if rej.Kind != kind {
		t.Errorf("Kind = %s, want %s", rej.Kind, kind)
	}
	if rej.Kind.Public() != public {
		t.Errorf("Public() = %s, want %s", rej.Kind.Public(), public)
	}
}

// Issue then authenticate immediately.
func TestAuthenticate_ValidCredential(t *testing.T) {
	env := newTestEnv(t)
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	raw, err := env.access.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, rej := env.authn.Authenticate(context.Background(), raw)
	if rej != nil {
		t.Fatalf("Authenticate() rejection = %v", rej)
	}
	if id.SubjectID != user.ID || id.Email != user.Email || id.Role != RoleUser {
		t.Errorf("identity = %+v, want subject %s", id, user.ID)
	}
}

// Blacklisting a credential defeats authentication even though its
// signature still verifies on its own.
func TestAuthenticate_Blacklisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	raw, _ := env.access.Issue(user.ID, user.Email, user.Role)
	if err := env.revocations.Blacklist(ctx, raw, user.ID, ReasonLogout, TokenTypeAccess); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	if _, err := env.access.Verify(raw); err != nil {
		t.Fatalf("signature should still verify in isolation: %v", err)
	}

	id, rej := env.authn.Authenticate(ctx, raw)
	assertRejected(t, id, rej, RejectBlacklisted, PublicInvalidOrExpired)
}

// Re-encoding a logged-out credential produces a string that misses the
// blacklist, so it must fail verification instead.
func TestAuthenticate_LoggedOutCredentialReencoded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	pair, err := env.service.IssuePair(user.ID, user.Email, user.Role, testClient)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	if err := env.service.RevokeOnLogout(ctx, pair.AccessToken, pair.RefreshToken, user.ID); err != nil {
		t.Fatalf("RevokeOnLogout() error = %v", err)
	}

	variants := sameBytesEncodings(pair.AccessToken)
	for i := range pair.AccessToken {
		b := []byte(pair.AccessToken)
		b[i] ^= 0x01
		variants = append(variants, string(b))
	}

	for _, raw := range variants {
		id, rej := env.authn.Authenticate(ctx, raw)
		if rej == nil {
			t.Fatalf("Authenticate(%q) accepted a re-encoded logged-out credential: %+v", raw, id)
		}
		if rej.Kind != RejectCredentialInvalid {
			t.Errorf("Authenticate(%q) Kind = %s, want %s", raw, rej.Kind, RejectCredentialInvalid)
		}
	}
}

// A deactivated subject is refused and the presented credential is
// blacklisted in the background.
func TestAuthenticate_DeactivatedSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	if err := env.users.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	raw, _ := env.access.Issue(user.ID, user.Email, user.Role)

	id, rej := env.authn.Authenticate(ctx, raw)
	assertRejected(t, id, rej, RejectAccountDeactivated, PublicAccountDeactivated)

	env.authn.Drain()

	entries := revocationsFor(t, env, user.ID)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Reason != ReasonAccountDeactivated {
		t.Errorf("Reason = %q, want %q", entries[0].Reason, ReasonAccountDeactivated)
	}
	if entries[0].TokenHash != HashToken(raw) {
		t.Error("entry should be keyed by the presented credential")
	}

	// Reactivation does not resurrect the blacklisted credential.
	if err := env.users.SetActive(ctx, user.ID, true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	id, rej = env.authn.Authenticate(ctx, raw)
	assertRejected(t, id, rej, RejectBlacklisted, PublicInvalidOrExpired)
}

func TestAuthenticate_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	refresh, _ := env.refresh.Issue(user.ID, ClientInfo{})
	orphan, _ := env.access.Issue("usr-deleted", "gone@example.com", RoleUser)

	tests := []struct {
		name   string
		raw    string
		kind   RejectionKind
		public PublicRejection
	}{
		{"missing", "", RejectMissingCredential, PublicMissingCredential},
		{"garbage", "not.a.credential", RejectCredentialInvalid, PublicInvalidOrExpired},
		{"refresh as access", refresh.Token, RejectCredentialInvalid, PublicInvalidOrExpired},
		{"unknown subject", orphan, RejectUserNotFound, PublicUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, rej := env.authn.Authenticate(context.Background(), tt.raw)
			assertRejected(t, id, rej, tt.kind, tt.public)
		})
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	env := newTestEnv(t)
	user := seedTestUser(t, env, "u1@example.com", RoleUser)

	raw, _ := env.access.Issue(user.ID, user.Email, user.Role)
	env.clock.Advance(time.Hour + time.Second)

	id, rej := env.authn.Authenticate(context.Background(), raw)
	assertRejected(t, id, rej, RejectCredentialExpired, PublicInvalidOrExpired)
	if !errors.Is(rej, ErrCredentialExpired) {
		t.Errorf("rejection should unwrap to ErrCredentialExpired, got %v", rej.Err)
	}
}

// failingGate fails every lookup with err.
type failingGate struct{ err error }

func (f failingGate) GetByID(context.Context, string) (*User, error) { return nil, f.err }

func (f failingGate) TouchLastActive(context.Context, string, time.Time) error { return f.err }

func TestAuthenticate_LookupFailuresFailClosed(t *testing.T) {
	env := newTestEnv(t)
	storeErr := errors.New("database is locked")
	raw, _ := env.access.Issue("U1", "u1@example.com", RoleUser)

	t.Run("user lookup", func(t *testing.T) {
		authn := NewAuthenticator(env.revocations, env.access, failingGate{err: storeErr}, env.clock.Now, env.logger())
		id, rej := authn.Authenticate(context.Background(), raw)
		assertRejected(t, id, rej, RejectLookupFailed, PublicInvalidOrExpired)
	})

	t.Run("revocation lookup", func(t *testing.T) {
		revs := NewRevocations(failingRevocationRepo{err: storeErr}, env.codec, RevocationOptions{}, env.logger())
		authn := NewAuthenticator(revs, env.access, env.users, env.clock.Now, env.logger())
		id, rej := authn.Authenticate(context.Background(), raw)
		assertRejected(t, id, rej, RejectLookupFailed, PublicInvalidOrExpired)
	})
}

func TestAuthenticate_TouchesLastActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env, "u1@example.com", RoleUser)
	raw, _ := env.access.Issue(user.ID, user.Email, user.Role)

	lastActive := func() *time.Time {
		t.Helper()
		env.authn.Drain()
		got, err := env.users.GetByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		return got.LastActiveAt
	}

	first := env.clock.Now()
	if _, rej := env.authn.Authenticate(ctx, raw); rej != nil {
		t.Fatalf("Authenticate() rejection = %v", rej)
	}
	if got := lastActive(); got == nil || !got.Equal(first) {
		t.Fatalf("LastActiveAt = %v, want %v", got, first)
	}

	// Within the throttle window nothing is written.
	env.clock.Advance(30 * time.Second)
	_, _ = env.authn.Authenticate(ctx, raw)
	if got := lastActive(); !got.Equal(first) {
		t.Errorf("LastActiveAt = %v, want unchanged %v", got, first)
	}

	env.clock.Advance(time.Minute)
	_, _ = env.authn.Authenticate(ctx, raw)
	if got := lastActive(); !got.Equal(env.clock.Now()) {
		t.Errorf("LastActiveAt = %v, want %v", got, env.clock.Now())
	}
}

// A cancelled request context must not abort the background blacklist write.
func TestAuthenticate_DetachedTaskOutlivesRequest(t *testing.T) {
	env := newTestEnv(t)
	user := seedTestUser(t, env, "u1@example.com", RoleUser)
	_ = env.users.SetActive(context.Background(), user.ID, false)
	raw, _ := env.access.Issue(user.ID, user.Email, user.Role)

	ctx, cancel := context.WithCancel(context.Background())
	_, rej := env.authn.Authenticate(ctx, raw)
	cancel()
	if rej == nil || rej.Kind != RejectAccountDeactivated {
		t.Fatalf("rejection = %v, want account_deactivated", rej)
	}

	env.authn.Drain()
	revoked, err := env.revocations.IsBlacklisted(context.Background(), raw)
	if err != nil || !revoked {
		t.Errorf("IsBlacklisted() = %v, %v; want true, nil", revoked, err)
	}
}
