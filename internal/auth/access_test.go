package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokens_IssueAndVerify(t *testing.T) {
	codec, _ := newTestCodec(t)
	access := NewAccessTokens(codec, 0)

	if access.TTL() != DefaultAccessTTL {
		t.Errorf("TTL() = %v, want %v", access.TTL(), DefaultAccessTTL)
	}

	raw, err := access.Issue("U1", "u1@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := access.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.SubjectID() != "U1" {
		t.Errorf("SubjectID() = %q, want %q", claims.SubjectID(), "U1")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("Type = %q, want %q", claims.Type, TokenTypeAccess)
	}
}

func TestAccessTokens_Expired(t *testing.T) {
	codec, clock := newTestCodec(t)
	access := NewAccessTokens(codec, 15*time.Minute)

	raw, _ := access.Issue("U1", "u1@example.com", RoleUser)
	clock.Advance(16 * time.Minute)

	if _, err := access.Verify(raw); !errors.Is(err, ErrCredentialExpired) {
		t.Errorf("Verify() error = %v, want ErrCredentialExpired", err)
	}
}

func TestAccessTokens_RejectsRefreshCredential(t *testing.T) {
	env := newTestEnv(t)

	issued, err := env.refresh.Issue("U1", ClientInfo{Device: "laptop"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := env.access.Verify(issued.Token); !errors.Is(err, ErrCredentialInvalid) {
		t.Errorf("Verify(refresh credential) error = %v, want ErrCredentialInvalid", err)
	}
}

func TestAccessTokens_RejectsMissingFields(t *testing.T) {
	codec, _ := newTestCodec(t)
	access := NewAccessTokens(codec, time.Hour)

	tests := []struct {
		name   string
		claims *AccessClaims
	}{
		{"no subject", &AccessClaims{Role: RoleUser, Type: TokenTypeAccess}},
		{"no role", func() *AccessClaims {
			c := &AccessClaims{Type: TokenTypeAccess}
			c.Subject = "U1"
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := codec.Sign(tt.claims, time.Hour)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if _, err := access.Verify(raw); !errors.Is(err, ErrCredentialInvalid) {
				t.Errorf("Verify() error = %v, want ErrCredentialInvalid", err)
			}
		})
	}
}
