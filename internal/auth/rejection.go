package auth

import "fmt"

// RejectionKind is the closed set of reasons an authentication attempt fails.
type RejectionKind int

const (
	RejectMissingCredential RejectionKind = iota + 1
	RejectCredentialInvalid
	RejectCredentialExpired
	RejectBlacklisted
	RejectUserNotFound
	RejectAccountDeactivated
	// RejectLookupFailed means the revocation store or user gate could not
	// be read; the attempt fails closed.
	RejectLookupFailed
)

// String returns the internal name used in logs and telemetry.
func (k RejectionKind) String() string {
	switch k {
	case RejectMissingCredential:
		return "missing_credential"
	case RejectCredentialInvalid:
		return "credential_invalid"
	case RejectCredentialExpired:
		return "credential_expired"
	case RejectBlacklisted:
		return "blacklisted"
	case RejectUserNotFound:
		return "user_not_found"
	case RejectAccountDeactivated:
		return "account_deactivated"
	case RejectLookupFailed:
		return "lookup_failed"
	}
	return fmt.Sprintf("rejection(%d)", int(k))
}

// PublicRejection is what callers outside the core are told. Blacklisted,
// tampered and expired credentials are indistinguishable from outside.
type PublicRejection string

const (
	PublicMissingCredential  PublicRejection = "missing_credential"
	PublicInvalidOrExpired   PublicRejection = "invalid_or_expired"
	PublicAccountDeactivated PublicRejection = "account_deactivated"
	PublicUserNotFound       PublicRejection = "user_not_found"
)

// Public collapses k into the outward-facing set. Unknown kinds are
// reported as invalid.
func (k RejectionKind) Public() PublicRejection {
	switch k {
	case RejectMissingCredential:
		return PublicMissingCredential
	case RejectCredentialInvalid, RejectCredentialExpired, RejectBlacklisted, RejectLookupFailed:
		return PublicInvalidOrExpired
	case RejectAccountDeactivated:
		return PublicAccountDeactivated
	case RejectUserNotFound:
		return PublicUserNotFound
	}
	return PublicInvalidOrExpired
}

// Message is the human-readable text shown for a public rejection.
func (p PublicRejection) Message() string {
	switch p {
	case PublicMissingCredential:
		return "authentication required"
	case PublicAccountDeactivated:
		return "account has been deactivated"
	case PublicUserNotFound:
		return "user not found"
	}
	return "invalid or expired credential"
}

// Rejection is a failed authentication outcome.
type Rejection struct {
	Kind RejectionKind

	// Err is the underlying cause, if any. Never shown to callers.
	Err error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return r.Kind.String() + ": " + r.Err.Error()
	}
	return r.Kind.String()
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func reject(kind RejectionKind, err error) *Rejection {
	return &Rejection{Kind: kind, Err: err}
}
