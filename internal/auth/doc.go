// Package auth provides credential issuance, verification and revocation
// for the StudySync auth core.
//
// Two credential kinds are signed with HS256:
//   - access credentials, short-lived and checked on every request
//   - refresh credentials, long-lived and stateless (never persisted)
//
// Every authentication runs the same ordered checks: the revocation list,
// then signature and expiry, then the subject's live active flag. The
// active flag is authoritative: deactivating an account stops all of its
// outstanding credentials, including refresh credentials that cannot be
// revoked individually.
//
// Revoked credentials are stored only as SHA-256 digests, each with an
// expiry matching the credential's own, so the list prunes itself.
//
// Roles map to permissions statically; there is no database lookup.
package auth
