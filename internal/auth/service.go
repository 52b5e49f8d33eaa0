package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studysync/authcore/internal/infrastructure/logging"
)

// TokenPair is what login and refresh hand back to a client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service is the outward-facing set of session operations built on the
// token services, the revocation list and the account store.
type Service struct {
	access      *AccessTokens
	refresh     *RefreshTokens
	revocations *Revocations
	users       UserRepository
	logger      *logging.Logger
}

// NewService wires a Service.
func NewService(access *AccessTokens, refresh *RefreshTokens, revocations *Revocations, users UserRepository, logger *logging.Logger) *Service {
	return &Service{
		access:      access,
		refresh:     refresh,
		revocations: revocations,
		users:       users,
		logger:      logger.With("component", "sessions"),
	}
}

// IssuePair signs a fresh access and refresh credential for the subject.
func (s *Service) IssuePair(subjectID, email string, role Role, client ClientInfo) (*TokenPair, error) {
	access, err := s.access.Issue(subjectID, email, role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.refresh.Issue(subjectID, client)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.access.TTL() / time.Second),
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Login checks email and password and issues a pair. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials; inactive accounts
// yield ErrUserInactive.
func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (*TokenPair, *User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Spend the same hashing time as a real check.
			VerifyPassword(password, dummyPasswordHash()) //nolint:errcheck // timing only
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("looking up account: %w", err)
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !match {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := s.IssuePair(user.ID, user.Email, user.Role, client)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("login", "subject_id", user.ID, "device", client.Device)
	return pair, user, nil
}

// Renew exchanges a refresh credential for a new pair. Every failure is
// ErrRefreshDenied. The presented credential stays valid afterwards.
func (s *Service) Renew(ctx context.Context, rawRefresh string, client ClientInfo) (*TokenPair, error) {
	revoked, err := s.revocations.IsBlacklisted(ctx, rawRefresh)
	if err != nil {
		s.logger.Error("refresh revocation lookup failed", "error", err)
		return nil, ErrRefreshDenied
	}
	if revoked {
		return nil, fmt.Errorf("%w: credential revoked", ErrRefreshDenied)
	}

	subjectID, ok := s.refresh.Verify(ctx, rawRefresh)
	if !ok {
		return nil, fmt.Errorf("%w: refresh credential not accepted", ErrRefreshDenied)
	}
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshDenied, err)
	}

	refreshed, err := s.refresh.Rotate(ctx, rawRefresh, subjectID, client)
	if err != nil {
		return nil, err
	}
	access, err := s.access.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.access.TTL() / time.Second),
		RefreshToken:     refreshed.Token,
		RefreshExpiresAt: refreshed.ExpiresAt,
	}, nil
}

// RevokeOnLogout blacklists the session's access credential and, best
// effort, its refresh credential. The refresh blacklist entry is only
// honoured by Renew; RefreshTokens.Verify itself stays stateless.
func (s *Service) RevokeOnLogout(ctx context.Context, rawAccess, rawRefresh, subjectID string) error {
	if err := s.revocations.Blacklist(ctx, rawAccess, subjectID, ReasonLogout, TokenTypeAccess); err != nil {
		return err
	}

	if rawRefresh != "" {
		if err := s.revocations.Blacklist(ctx, rawRefresh, subjectID, ReasonLogout, TokenTypeRefresh); err != nil {
			s.logger.Warn("refresh credential blacklist failed", "subject_id", subjectID, "error", err)
		}
		// No-op by contract; kept so a stateful refresh store slots in here.
		_ = s.refresh.Revoke(ctx, rawRefresh) //nolint:errcheck // always nil
	}
	return nil
}

// CascadeOnDeactivation runs the revocation side of a deactivation and
// returns how many live entries were already known for the subject. It
// never fails: the subject's inactive flag is the enforcement path.
func (s *Service) CascadeOnDeactivation(ctx context.Context, subjectID string) int {
	known := s.revocations.BlacklistAllForSubject(ctx, subjectID, ReasonAccountDeactivated)
	_ = s.refresh.RevokeAllForSubject(ctx, subjectID) //nolint:errcheck // always nil

	if err := s.revocations.SentinelDeactivate(ctx, subjectID); err != nil {
		s.logger.Warn("deactivation sentinel failed", "subject_id", subjectID, "error", err)
	}
	s.logger.Info("account deactivation cascaded", "subject_id", subjectID, "known_revocations", known)
	return known
}

// Deactivate clears the subject's active flag and cascades. Deactivating
// an inactive account is not an error.
func (s *Service) Deactivate(ctx context.Context, subjectID string) (int, error) {
	if err := s.users.SetActive(ctx, subjectID, false); err != nil {
		return 0, err
	}
	return s.CascadeOnDeactivation(ctx, subjectID), nil
}

// ChangePassword verifies current, stores next and cascades. rawAccess is
// the credential the change was made with.
func (s *Service) ChangePassword(ctx context.Context, subjectID, rawAccess, current, next string) error {
	if err := CheckPasswordPolicy(next); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		return err
	}
	match, err := VerifyPassword(current, user.PasswordHash)
	if err != nil || !match {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, subjectID, hash); err != nil {
		return err
	}
	return s.CascadeOnPasswordChange(ctx, subjectID, rawAccess)
}

// CascadeOnPasswordChange blacklists the credential used for the change.
// Other outstanding access credentials expire on their own schedule.
func (s *Service) CascadeOnPasswordChange(ctx context.Context, subjectID, rawAccess string) error {
	if err := s.revocations.Blacklist(ctx, rawAccess, subjectID, ReasonPasswordChange, TokenTypeAccess); err != nil {
		return err
	}
	s.revocations.BlacklistAllForSubject(ctx, subjectID, ReasonPasswordChange)
	return nil
}
