package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/studysync/authcore/internal/audit"
)

// recordEvent appends a security event. Failures are logged and never
// fail the request that caused them.
func (s *Server) recordEvent(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), &ev); err != nil {
		s.logger.Warn("failed to record security event",
			"action", ev.Action,
			"subject_id", ev.SubjectID,
			"error", err,
		)
	}
}

// handleListSecurityEvents returns recorded security events, newest first.
// Query parameters: action, subject_id, limit, offset.
func (s *Server) handleListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Events: []audit.Event{}})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:    audit.Action(q.Get("action")),
		SubjectID: q.Get("subject_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list security events failed", "error", err)
		writeInternalError(w, "failed to list security events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
