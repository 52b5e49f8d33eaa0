package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studysync/authcore/internal/infrastructure/logging"
)

// Revocation lifetimes used when none are configured.
const (
	DefaultFallbackWindow = 7 * 24 * time.Hour
	DefaultSentinelTTL    = 365 * 24 * time.Hour
	DefaultMaxLifetime    = 30 * 24 * time.Hour
)

// RevocationOptions tunes entry lifetimes.
type RevocationOptions struct {
	// FallbackWindow is the entry lifetime when the credential's own
	// expiry cannot be decoded.
	FallbackWindow time.Duration

	// SentinelTTL is the lifetime of audit-only deactivation entries.
	SentinelTTL time.Duration

	// MaxLifetime bounds an entry derived from a credential's own expiry.
	// It should be at least the longest credential TTL issued.
	MaxLifetime time.Duration
}

// Revocations maintains the blacklist of revoked credentials.
type Revocations struct {
	repo   RevocationRepository
	codec  *Codec
	opts   RevocationOptions
	logger *logging.Logger
}

// NewRevocations returns a Revocations over repo. The codec supplies both
// the clock and unverified expiry decoding.
func NewRevocations(repo RevocationRepository, codec *Codec, opts RevocationOptions, logger *logging.Logger) *Revocations {
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = DefaultFallbackWindow
	}
	if opts.SentinelTTL <= 0 {
		opts.SentinelTTL = DefaultSentinelTTL
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = DefaultMaxLifetime
	}
	return &Revocations{
		repo:   repo,
		codec:  codec,
		opts:   opts,
		logger: logger.With("component", "revocations"),
	}
}

// Hash returns the digest under which raw is stored.
func (s *Revocations) Hash(raw string) string {
	return HashToken(raw)
}

// Blacklist revokes raw until the credential would have expired on its
// own, or for the fallback window when its expiry cannot be decoded. The
// decoded expiry is unverified, so it is capped at MaxLifetime from now.
// Revoking an already revoked credential succeeds.
func (s *Revocations) Blacklist(ctx context.Context, raw, ownerID string, reason Reason, tokenType TokenType) error {
	if !reason.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	now := s.codec.Now()
	expiresAt, ok := s.codec.PeekExpiry(raw)
	if !ok {
		expiresAt = now.Add(s.opts.FallbackWindow)
	} else if limit := now.Add(s.opts.MaxLifetime); expiresAt.After(limit) {
		expiresAt = limit
	}

	entry := &RevocationEntry{
		TokenHash: HashToken(raw),
		OwnerID:   ownerID,
		TokenType: tokenType,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	inserted, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return fmt.Errorf("blacklisting credential: %w", err)
	}

	s.logger.Info("credential revoked",
		"token_hash", entry.TokenHash[:12],
		"owner_id", ownerID,
		"reason", reason,
		"token_type", tokenType,
		"already_revoked", !inserted,
	)
	return nil
}

// IsBlacklisted reports whether raw has a live revocation entry.
func (s *Revocations) IsBlacklisted(ctx context.Context, raw string) (bool, error) {
	revoked, err := s.repo.ExistsLive(ctx, HashToken(raw), s.codec.Now())
	if err != nil {
		return false, fmt.Errorf("checking blacklist: %w", err)
	}
	return revoked, nil
}

// BlacklistAllForSubject returns how many live entries already exist for
// ownerID. It cannot discover credentials that were never blacklisted, so
// the count is informational and the call never fails; the subject's
// active flag is what stops everything else.
func (s *Revocations) BlacklistAllForSubject(ctx context.Context, ownerID string, reason Reason) int {
	known, err := s.repo.CountLiveForOwner(ctx, ownerID, s.codec.Now())
	if err != nil {
		s.logger.Warn("counting known revocations failed", "owner_id", ownerID, "reason", reason, "error", err)
		return 0
	}
	s.logger.Info("known revocations for subject", "owner_id", ownerID, "reason", reason, "known", known)
	return known
}

// SentinelDeactivate writes an audit-only entry recording that ownerID was
// deactivated. Its digest is synthetic, so it blocks no credential.
func (s *Revocations) SentinelDeactivate(ctx context.Context, ownerID string) error {
	now := s.codec.Now()
	entry := &RevocationEntry{
		TokenHash: HashToken("sentinel:" + uuid.NewString()),
		OwnerID:   ownerID,
		TokenType: TokenTypeAccess,
		Reason:    ReasonAccountDeactivated,
		ExpiresAt: now.Add(s.opts.SentinelTTL),
		CreatedAt: now,
	}
	if _, err := s.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("writing deactivation sentinel: %w", err)
	}
	return nil
}

// ListForSubject returns ownerID's live entries for audit.
func (s *Revocations) ListForSubject(ctx context.Context, ownerID string) ([]RevocationEntry, error) {
	return s.repo.ListLiveForOwner(ctx, ownerID, s.codec.Now())
}

// SweepExpired deletes entries that no longer block anything. Lookups
// already ignore them, so this is storage hygiene only.
func (s *Revocations) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.codec.Now())
	if err != nil {
		return 0, fmt.Errorf("sweeping revocation entries: %w", err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (s *Revocations) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("revocation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("revocation sweep", "deleted", n)
			}
		}
	}
}
