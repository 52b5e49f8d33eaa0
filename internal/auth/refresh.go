package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/studysync/authcore/internal/infrastructure/logging"
)

// DefaultRefreshTTL is the refresh credential lifetime when none is configured.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// nonceBytes gives each refresh credential 256 bits of uniqueness.
const nonceBytes = 32

// RefreshClaims is the payload of a refresh credential. Nonce only makes
// each issuance unique; it is never stored or looked up.
type RefreshClaims struct {
	baseClaims
	Type      TokenType `json:"typ"`
	Nonce     string    `json:"nonce"`
	Device    string    `json:"device,omitempty"`
	SourceIP  string    `json:"ip,omitempty"`
	UserAgent string    `json:"ua,omitempty"`
}

// IssuedRefresh is a freshly signed refresh credential.
type IssuedRefresh struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshTokens issues and verifies stateless refresh credentials.
//
// Refresh credentials are never persisted, so an individual credential
// cannot be revoked: Revoke and RevokeAllForSubject are no-ops. Every
// Verify re-reads the subject through the UserStateGate, which makes
// deactivation the enforcement path for everything already issued.
type RefreshTokens struct {
	codec  *Codec
	ttl    time.Duration
	users  UserStateGate
	logger *logging.Logger
}

// NewRefreshTokens returns a RefreshTokens. A non-positive ttl means
// DefaultRefreshTTL.
func NewRefreshTokens(codec *Codec, ttl time.Duration, users UserStateGate, logger *logging.Logger) *RefreshTokens {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &RefreshTokens{
		codec:  codec,
		ttl:    ttl,
		users:  users,
		logger: logger.With("component", "refresh_tokens"),
	}
}

// Issue signs a refresh credential for the subject on the given client.
func (r *RefreshTokens) Issue(subjectID string, client ClientInfo) (*IssuedRefresh, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating refresh nonce: %w", err)
	}

	claims := &RefreshClaims{
		Type:      TokenTypeRefresh,
		Nonce:     hex.EncodeToString(nonce),
		Device:    client.Device,
		SourceIP:  client.IP,
		UserAgent: client.UserAgent,
	}
	claims.Subject = subjectID

	raw, err := r.codec.Sign(claims, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh credential: %w", err)
	}
	return &IssuedRefresh{Token: raw, ExpiresAt: claims.ExpiresAt.Time.UTC()}, nil
}

// Verify returns the subject of a valid refresh credential whose owner is
// still active. Any failure yields ok=false; callers treat that uniformly
// as "re-authenticate".
func (r *RefreshTokens) Verify(ctx context.Context, raw string) (subjectID string, ok bool) {
	user, err := r.authorize(ctx, raw)
	if err != nil {
		r.logger.Debug("refresh credential denied", "error", err)
		return "", false
	}
	return user.ID, true
}

// authorize verifies raw statelessly, then confirms the subject exists and
// is active.
func (r *RefreshTokens) authorize(ctx context.Context, raw string) (*User, error) {
	var claims RefreshClaims
	if err := r.codec.Verify(raw, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: wrong credential type %q", ErrCredentialInvalid, claims.Type)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrCredentialInvalid)
	}

	user, err := r.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// Revoke is a no-op that returns nil. Refresh credentials are stateless
// and cannot be individually revoked; deactivate the subject instead.
func (r *RefreshTokens) Revoke(_ context.Context, _ string) error {
	return nil
}

// RevokeAllForSubject is a no-op that returns nil, for the same reason as
// Revoke. Only the subject's active flag stops outstanding refresh credentials.
func (r *RefreshTokens) RevokeAllForSubject(_ context.Context, _ string) error {
	return nil
}

// Rotate verifies old belongs to subjectID and issues a replacement. The
// old credential remains valid until it expires.
func (r *RefreshTokens) Rotate(ctx context.Context, old, subjectID string, client ClientInfo) (*IssuedRefresh, error) {
	user, err := r.authorize(ctx, old)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshDenied, err)
	}
	if user.ID != subjectID {
		return nil, fmt.Errorf("%w: %w", ErrRefreshDenied, ErrSubjectMismatch)
	}
	return r.Issue(subjectID, client)
}
