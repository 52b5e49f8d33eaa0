package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// PresenceEvent is published on Topics.Presence when a subject's realtime
// connection set changes between empty and non-empty.
type PresenceEvent struct {
	SubjectID string    `json:"subject_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountDeactivatedEvent is consumed from Topics.AccountDeactivated.
type AccountDeactivatedEvent struct {
	UserID string `json:"user_id"`
}

// ParseAccountDeactivated decodes and validates a deactivation message.
func ParseAccountDeactivated(payload []byte) (AccountDeactivatedEvent, error) {
	var ev AccountDeactivatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if ev.UserID == "" {
		return ev, fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
	}
	return ev, nil
}
