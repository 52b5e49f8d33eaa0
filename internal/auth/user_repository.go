package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserStateGate is the read path the authentication pipeline uses to
// confirm a subject still exists and is active.
type UserStateGate interface {
	// GetByID returns ErrUserNotFound when the subject does not exist.
	GetByID(ctx context.Context, id string) (*User, error)

	// TouchLastActive records that the subject was just seen.
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

// UserRepository is the account persistence used by login, password
// change, deactivation and first-boot seeding.
type UserRepository interface {
	UserStateGate
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db  *sql.DB
	now Clock
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB, now Clock) *SQLiteUserRepository {
	if now == nil {
		now = SystemClock
	}
	return &SQLiteUserRepository{db: db, now: now}
}

const userColumns = "id, email, name, password_hash, role, is_active, last_active_at, created_at, updated_at"

// Create inserts a new account. The ID is generated if empty; emails are
// stored lower-cased.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	user.Email = normaliseEmail(user.Email)

	now := formatTime(r.now())
	user.CreatedAt = parseTime(now)
	user.UpdatedAt = user.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, string(user.Role),
		boolToInt(user.IsActive), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", normaliseEmail(email)))
}

// SetActive flips the account's active flag.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, "setting active flag",
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), formatTime(r.now()), id)
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, "updating password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, formatTime(r.now()), id)
}

// TouchLastActive sets last_active_at; it does not bump updated_at.
func (r *SQLiteUserRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "touching last active",
		"UPDATE users SET last_active_at = ? WHERE id = ?",
		formatTime(at), id)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) update(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var role string
	var isActive int
	var lastActive sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &isActive,
		&lastActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.IsActive = isActive != 0
	if lastActive.Valid {
		t := parseTime(lastActive.String)
		u.LastActiveAt = &t
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// Helper functions.

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// formatTime renders timestamps as RFC 3339 UTC so that string comparison
// in SQL matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
