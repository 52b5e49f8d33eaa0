// Package audit records security-relevant account activity in the
// security_events table and serves it back for review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action names a kind of security event.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLogout         Action = "logout"
	ActionPasswordChange Action = "password_change"
	ActionDeactivate     Action = "deactivate"
	ActionAdminSeeded    Action = "admin_seeded"
)

// Source says which surface an event came through.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceMQTT   Source = "mqtt"
	SourceSystem Source = "system"
)

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Event is one security_events row. Details never carry credentials.
type Event struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	SubjectID string         `json:"subject_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Source    Source         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Action    Action
	SubjectID string
	Limit     int // default 50, max 200
	Offset    int
}

// ListResult is a page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists security events.
type Repository interface {
	Record(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a security event repository. A nil now uses
// the wall clock.
func NewSQLiteRepository(db *sql.DB, now func() time.Time) *SQLiteRepository {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQLiteRepository{db: db, now: now}
}

// Record inserts ev. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "sev-" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}

	var detailsJSON *string
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (id, action, subject_id, actor_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Action),
		nullableString(ev.SubjectID), nullableString(ev.ActorID),
		string(ev.Source), detailsJSON,
		ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM security_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	query := "SELECT id, action, subject_id, actor_id, source, details, created_at FROM security_events " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var action, source, createdAt string
	var subjectID, actorID, detailsJSON sql.NullString

	if err := rows.Scan(&ev.ID, &action, &subjectID, &actorID, &source, &detailsJSON, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning security event: %w", err)
	}
	ev.Action = Action(action)
	ev.Source = Source(source)
	ev.SubjectID = subjectID.String
	ev.ActorID = actorID.String

	if detailsJSON.Valid && detailsJSON.String != "" {
		var details map[string]any
		if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
			ev.Details = details
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing security event timestamp %q: %w", createdAt, err)
	}
	ev.CreatedAt = t
	return ev, nil
}
