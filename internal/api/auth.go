package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
)

// deviceHeader optionally names the client device for refresh credentials.
const deviceHeader = "X-Device-Info"

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	*auth.TokenPair
	User *auth.User `json:"user"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Device       string `json:"device,omitempty"`
}

// logoutRequest is the optional request body for POST /auth/logout.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// changePasswordRequest is the request body for POST /auth/password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	*auth.Identity
	Permissions []auth.Permission `json:"permissions"`
}

// handleLogin checks email and password and returns a credential pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	client := clientInfo(r, req.Device)
	pair, user, err := s.sessions.Login(r.Context(), req.Email, req.Password, client)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
		s.recordEvent(r.Context(), audit.Event{
			Action: audit.ActionLoginFailed,
			Source: audit.SourceHTTP,
			Details: map[string]any{
				"email":  req.Email,
				"ip":     client.IP,
				"reason": loginFailureReason(err),
			},
		})
		if errors.Is(err, auth.ErrUserInactive) {
			writeError(w, http.StatusForbidden, string(auth.PublicAccountDeactivated), auth.PublicAccountDeactivated.Message())
			return
		}
		writeUnauthorized(w, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.recordEvent(r.Context(), audit.Event{
		Action:    audit.ActionLogin,
		SubjectID: user.ID,
		ActorID:   user.ID,
		Source:    audit.SourceHTTP,
		Details:   map[string]any{"ip": client.IP, "device": client.Device},
	})
	writeJSON(w, http.StatusOK, loginResponse{TokenPair: pair, User: user})
}

func loginFailureReason(err error) string {
	if errors.Is(err, auth.ErrUserInactive) {
		return "account_deactivated"
	}
	return "invalid_credentials"
}

// handleRefresh exchanges a refresh credential for a new pair. The
// presented credential is not consumed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.sessions.Renew(r.Context(), req.RefreshToken, clientInfo(r, req.Device))
	if err != nil {
		if errors.Is(err, auth.ErrRefreshDenied) {
			s.logger.Debug("refresh denied", "error", err)
			writeError(w, http.StatusUnauthorized, string(auth.PublicInvalidOrExpired), auth.PublicInvalidOrExpired.Message())
			return
		}
		s.logger.Error("refresh failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the presenting access credential and, when given,
// the session's refresh credential.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sessions.RevokeOnLogout(r.Context(), credentialFromContext(r.Context()), req.RefreshToken, id.SubjectID); err != nil {
		s.logger.Error("logout revocation failed", "subject_id", id.SubjectID, "error", err)
		writeInternalError(w, "logout failed")
		return
	}

	s.recordEvent(r.Context(), audit.Event{
		Action:    audit.ActionLogout,
		SubjectID: id.SubjectID,
		ActorID:   id.SubjectID,
		Source:    audit.SourceHTTP,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleChangePassword stores a new password, revokes the presenting
// credential and returns a fresh pair.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.sessions.ChangePassword(r.Context(), id.SubjectID, credentialFromContext(r.Context()), req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		writeValidationError(w, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeBadRequest(w, "current password is incorrect")
		return
	case err != nil:
		s.logger.Error("password change failed", "subject_id", id.SubjectID, "error", err)
		writeInternalError(w, "password change failed")
		return
	}

	s.recordEvent(r.Context(), audit.Event{
		Action:    audit.ActionPasswordChange,
		SubjectID: id.SubjectID,
		ActorID:   id.SubjectID,
		Source:    audit.SourceHTTP,
	})

	pair, err := s.sessions.IssuePair(id.SubjectID, id.Email, id.Role, clientInfo(r, ""))
	if err != nil {
		s.logger.Error("issuing credentials after password change failed", "subject_id", id.SubjectID, "error", err)
		writeInternalError(w, "password changed; please log in again")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleMe returns the authenticated identity and its permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		Identity:    id,
		Permissions: auth.PermissionsForRole(id.Role),
	})
}

// clientInfo describes the requesting device. device overrides the
// X-Device-Info header.
func clientInfo(r *http.Request, device string) auth.ClientInfo {
	if device == "" {
		device = r.Header.Get(deviceHeader)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return auth.ClientInfo{
		Device:    device,
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}
