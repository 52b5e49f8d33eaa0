package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stampedClaims is implemented by claim sets the Codec can sign. Sign
// fills in the registered timing and ID fields.
type stampedClaims interface {
	jwt.Claims
	stamp(issuedAt, expiresAt time.Time, id string)
}

// baseClaims carries the registered JWT claims shared by both credential kinds.
type baseClaims struct {
	jwt.RegisteredClaims
}

func (b *baseClaims) stamp(issuedAt, expiresAt time.Time, id string) {
	b.IssuedAt = jwt.NewNumericDate(issuedAt)
	b.ExpiresAt = jwt.NewNumericDate(expiresAt)
	b.ID = id
}

// Codec signs and verifies HS256 credentials.
//
// Expiry is judged against the injected Clock at verification time; no
// background timer is involved.
type Codec struct {
	secret []byte
	now    Clock
}

// NewCodec returns a Codec for secret. An empty secret is a startup
// misconfiguration and yields ErrMissingSecret. A nil clock means SystemClock.
func NewCodec(secret string, now Clock) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if now == nil {
		now = SystemClock
	}
	return &Codec{secret: []byte(secret), now: now}, nil
}

// Now returns the codec's current time.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Sign stamps claims with issued-at, expires-at (now+ttl) and a fresh
// unique ID, then returns the signed compact string.
func (c *Codec) Sign(claims stampedClaims, ttl time.Duration) (string, error) {
	now := c.now()
	claims.stamp(now, now.Add(ttl), uuid.NewString())

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and decodes it into claims.
// It returns an error wrapping ErrCredentialExpired for a well-formed,
// correctly signed credential past its expiry, and ErrCredentialInvalid
// for everything else.
func (c *Codec) Verify(raw string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		// One accepted encoding per credential; the blacklist keys on the raw string.
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		// The signature is checked before the claims, so an expired error
		// implies the credential is authentic.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", ErrCredentialExpired, err)
		}
		return fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return ErrCredentialInvalid
	}
	return nil
}

// PeekExpiry decodes the expiry of raw without verifying its signature.
// It is only used to size revocation entries, never for trust decisions.
func (c *Codec) PeekExpiry(raw string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time.UTC(), true
}
