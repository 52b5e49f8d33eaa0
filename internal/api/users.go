package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
)

// handleDeactivateUser deactivates an account, cascades revocation and
// closes the subject's realtime connections.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	caller, _ := auth.IdentityFromContext(r.Context())

	if userID == caller.SubjectID {
		writeBadRequest(w, "cannot deactivate your own account")
		return
	}

	known, err := s.sessions.Deactivate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("deactivate user failed", "user_id", userID, "error", err)
		writeInternalError(w, "failed to deactivate user")
		return
	}

	disconnected := s.hub.DisconnectSubject(userID)
	s.logger.Info("user deactivated",
		"user_id", userID,
		"by", caller.SubjectID,
		"known_revocations", known,
		"disconnected", disconnected,
	)

	s.recordEvent(r.Context(), audit.Event{
		Action:    audit.ActionDeactivate,
		SubjectID: userID,
		ActorID:   caller.SubjectID,
		Source:    audit.SourceHTTP,
		Details:   map[string]any{"known_revocations": known, "disconnected": disconnected},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           userID,
		"is_active":         false,
		"known_revocations": known,
		"disconnected":      disconnected,
	})
}

// handleListRevocations returns an account's live revocation entries.
func (s *Server) handleListRevocations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	entries, err := s.revocations.ListForSubject(r.Context(), userID)
	if err != nil {
		s.logger.Error("list revocations failed", "user_id", userID, "error", err)
		writeInternalError(w, "failed to list revocations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"revocations": entries,
		"count":       len(entries),
	})
}
