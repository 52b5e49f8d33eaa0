package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// RevocationRepository persists revocation entries. Expiry filters take an
// explicit now so the caller's clock decides what is live.
type RevocationRepository interface {
	// Insert stores entry. A digest that is already present is not an
	// error; inserted reports whether a new row was written.
	Insert(ctx context.Context, entry *RevocationEntry) (inserted bool, err error)

	// ExistsLive reports whether a row for tokenHash has expires_at > now.
	ExistsLive(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// CountLiveForOwner counts rows for ownerID with expires_at > now.
	CountLiveForOwner(ctx context.Context, ownerID string, now time.Time) (int, error)

	// ListLiveForOwner returns rows for ownerID with expires_at > now, newest first.
	ListLiveForOwner(ctx context.Context, ownerID string, now time.Time) ([]RevocationEntry, error)

	// DeleteExpired removes rows with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteRevocationRepository implements RevocationRepository using SQLite.
type SQLiteRevocationRepository struct {
	db *sql.DB
}

// NewRevocationRepository creates a new SQLite-backed revocation repository.
func NewRevocationRepository(db *sql.DB) *SQLiteRevocationRepository {
	return &SQLiteRevocationRepository{db: db}
}

// HashToken computes the SHA-256 hex digest of a raw credential.
// Raw credentials are never stored, only their digests.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Insert stores entry, ignoring a duplicate digest.
func (r *SQLiteRevocationRepository) Insert(ctx context.Context, entry *RevocationEntry) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (token_hash, owner_id, token_type, reason, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.TokenHash, nullString(entry.OwnerID), string(entry.TokenType), string(entry.Reason),
		formatTime(entry.ExpiresAt), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting revocation entry: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return false, nil
	}
	entry.ID, _ = result.LastInsertId() //nolint:errcheck // always succeeds on SQLite
	return true, nil
}

// ExistsLive reports whether tokenHash is revoked at now.
func (r *SQLiteRevocationRepository) ExistsLive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_hash = ? AND expires_at > ? LIMIT 1",
		tokenHash, formatTime(now),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up revocation entry: %w", err)
	}
	return true, nil
}

// CountLiveForOwner counts ownerID's live entries.
func (r *SQLiteRevocationRepository) CountLiveForOwner(ctx context.Context, ownerID string, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revoked_tokens WHERE owner_id = ? AND expires_at > ?",
		ownerID, formatTime(now),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting revocation entries: %w", err)
	}
	return count, nil
}

// ListLiveForOwner returns ownerID's live entries, newest first.
func (r *SQLiteRevocationRepository) ListLiveForOwner(ctx context.Context, ownerID string, now time.Time) ([]RevocationEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token_hash, owner_id, token_type, reason, expires_at, created_at
		 FROM revoked_tokens WHERE owner_id = ? AND expires_at > ?
		 ORDER BY created_at DESC, id DESC`,
		ownerID, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("listing revocation entries: %w", err)
	}
	defer rows.Close()

	entries := []RevocationEntry{}
	for rows.Next() {
		var e RevocationEntry
		var owner sql.NullString
		var tokenType, reason, expiresAt, createdAt string
		if err := rows.Scan(&e.ID, &e.TokenHash, &owner, &tokenType, &reason, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning revocation entry: %w", err)
		}
		e.OwnerID = owner.String
		e.TokenType = TokenType(tokenType)
		e.Reason = Reason(reason)
		e.ExpiresAt = parseTime(expiresAt)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating revocation entries: %w", err)
	}
	return entries, nil
}

// DeleteExpired removes every entry whose expiry is at or before now.
func (r *SQLiteRevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired revocation entries: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
