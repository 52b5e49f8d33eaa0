package auth

import (
	"fmt"
	"time"
)

// DefaultAccessTTL is the access credential lifetime when none is configured.
const DefaultAccessTTL = time.Hour

// AccessClaims is the payload of an access credential.
type AccessClaims struct {
	baseClaims
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Type  TokenType `json:"typ"`
}

// SubjectID returns the credential's subject.
func (c *AccessClaims) SubjectID() string {
	return c.Subject
}

// AccessTokens issues and verifies short-lived access credentials. It has
// no side effects and performs no I/O.
type AccessTokens struct {
	codec *Codec
	ttl   time.Duration
}

// NewAccessTokens returns an AccessTokens signing with codec. A
// non-positive ttl means DefaultAccessTTL.
func NewAccessTokens(codec *Codec, ttl time.Duration) *AccessTokens {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &AccessTokens{codec: codec, ttl: ttl}
}

// TTL returns the lifetime of issued access credentials.
func (a *AccessTokens) TTL() time.Duration {
	return a.ttl
}

// Issue signs an access credential for the subject.
func (a *AccessTokens) Issue(subjectID, email string, role Role) (string, error) {
	claims := &AccessClaims{
		Email: email,
		Role:  role,
		Type:  TokenTypeAccess,
	}
	claims.Subject = subjectID

	raw, err := a.codec.Sign(claims, a.ttl)
	if err != nil {
		return "", fmt.Errorf("issuing access credential: %w", err)
	}
	return raw, nil
}

// Verify returns the claims of a valid access credential. A refresh
// credential presented here is ErrCredentialInvalid.
func (a *AccessTokens) Verify(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := a.codec.Verify(raw, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("%w: wrong credential type %q", ErrCredentialInvalid, claims.Type)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrCredentialInvalid)
	}
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrCredentialInvalid)
	}
	return &claims, nil
}
