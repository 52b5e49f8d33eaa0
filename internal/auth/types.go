package auth

import (
	"errors"
	"time"
)

// Role represents an authorisation tier carried in access credentials.
type Role string

const (
	// RoleUser is a regular StudySync learner account.
	RoleUser Role = "user"

	// RoleAdmin can deactivate accounts and audit revocations.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid user roles.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValidUserRole returns true if the role is a valid role for a user account.
func IsValidUserRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User is the account state the authentication pipeline reads. Other
// StudySync services own the rest of the profile.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TokenType distinguishes the two credential kinds.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Reason records why a credential was revoked.
type Reason string

const (
	ReasonLogout             Reason = "logout"
	ReasonPasswordChange     Reason = "password_change"
	ReasonAccountDeactivated Reason = "account_deactivated"
	ReasonAdminRevoke        Reason = "admin_revoke"
	ReasonSecurity           Reason = "security"
)

// IsValid reports whether r is one of the known revocation reasons.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonLogout, ReasonPasswordChange, ReasonAccountDeactivated, ReasonAdminRevoke, ReasonSecurity:
		return true
	}
	return false
}

// RevocationEntry is one row of the revocation list. TokenHash is the
// SHA-256 digest of the raw credential; raw credentials are never stored.
type RevocationEntry struct {
	ID        int64     `json:"id"`
	TokenHash string    `json:"token_hash"`
	OwnerID   string    `json:"owner_id,omitempty"`
	TokenType TokenType `json:"token_type"`
	Reason    Reason    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientInfo describes the device a refresh credential was issued to.
type ClientInfo struct {
	Device    string
	IP        string
	UserAgent string
}

// Clock returns the current time. Injected so expiry can be tested with a
// simulated clock.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Sentinel errors for auth operations.
var (
	ErrMissingSecret      = errors.New("signing secret is not configured")
	ErrCredentialInvalid  = errors.New("credential is invalid")
	ErrCredentialExpired  = errors.New("credential has expired")
	ErrRefreshDenied      = errors.New("refresh denied")
	ErrSubjectMismatch    = errors.New("credential belongs to another subject")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidReason      = errors.New("invalid revocation reason")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrWeakPassword       = errors.New("password does not meet requirements")
)
