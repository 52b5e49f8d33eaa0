package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/studysync/authcore/internal/infrastructure/logging"
)

const (
	// detachedTaskTimeout bounds each best-effort write.
	detachedTaskTimeout = 5 * time.Second

	// touchInterval throttles last-active writes per subject.
	touchInterval = time.Minute
)

// Authenticator turns a raw access credential into an Identity.
//
// Checks run strictly in order and stop at the first failure:
// revocation list, signature and expiry, then the subject's live state.
// The two side effects (blacklisting a deactivated subject's credential,
// touching last-active) run as detached tasks whose errors are logged and
// never change the outcome.
type Authenticator struct {
	revocations *Revocations
	access      *AccessTokens
	users       UserStateGate
	now         Clock
	logger      *logging.Logger

	tasks sync.WaitGroup
}

// NewAuthenticator wires the pipeline. A nil clock means SystemClock.
func NewAuthenticator(revocations *Revocations, access *AccessTokens, users UserStateGate, now Clock, logger *logging.Logger) *Authenticator {
	if now == nil {
		now = SystemClock
	}
	return &Authenticator{
		revocations: revocations,
		access:      access,
		users:       users,
		now:         now,
		logger:      logger.With("component", "authenticator"),
	}
}

// Authenticate returns exactly one of an Identity or a Rejection.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*Identity, *Rejection) {
	if raw == "" {
		return nil, reject(RejectMissingCredential, nil)
	}

	// The revocation list is consulted before the signature so a known-bad
	// string is refused without further work.
	revoked, err := a.revocations.IsBlacklisted(ctx, raw)
	if err != nil {
		a.logger.Error("revocation lookup failed", "error", err)
		return nil, reject(RejectLookupFailed, err)
	}
	if revoked {
		return nil, reject(RejectBlacklisted, nil)
	}

	claims, err := a.access.Verify(raw)
	if err != nil {
		if errors.Is(err, ErrCredentialExpired) {
			return nil, reject(RejectCredentialExpired, err)
		}
		return nil, reject(RejectCredentialInvalid, err)
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// A valid signature means the subject existed at issuance.
			a.logger.Warn("authenticated subject no longer exists", "subject_id", claims.Subject)
			return nil, reject(RejectUserNotFound, err)
		}
		a.logger.Error("user lookup failed", "subject_id", claims.Subject, "error", err)
		return nil, reject(RejectLookupFailed, err)
	}

	if !user.IsActive {
		a.detach(ctx, "blacklist_deactivated", func(taskCtx context.Context) error {
			return a.revocations.Blacklist(taskCtx, raw, user.ID, ReasonAccountDeactivated, TokenTypeAccess)
		})
		return nil, reject(RejectAccountDeactivated, nil)
	}

	now := a.now()
	if user.LastActiveAt == nil || now.Sub(*user.LastActiveAt) >= touchInterval {
		a.detach(ctx, "touch_last_active", func(taskCtx context.Context) error {
			return a.users.TouchLastActive(taskCtx, user.ID, now)
		})
	}

	return &Identity{
		SubjectID: user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
	}, nil
}

// Drain blocks until every detached task has finished.
func (a *Authenticator) Drain() {
	a.tasks.Wait()
}

// detach runs fn in the background, detached from ctx's cancellation but
// bounded by detachedTaskTimeout. Failures are logged and dropped.
func (a *Authenticator) detach(ctx context.Context, task string, fn func(context.Context) error) {
	a.tasks.Add(1)
	go func() {
		defer a.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("detached task panic recovered", "task", task, "panic", r)
			}
		}()

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTaskTimeout)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			a.logger.Warn("detached task failed", "task", task, "error", err)
		}
	}()
}
