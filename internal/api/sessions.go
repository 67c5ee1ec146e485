package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/duckmesh/sqlchat/internal/auth"
	"github.com/duckmesh/sqlchat/internal/chat"
	"github.com/duckmesh/sqlchat/internal/transcript"
)

const (
	anonymousOwner         = "anonymous"
	defaultTranscriptLimit = 100
	maxTranscriptLimit     = 1000
)

// ownerFromRequest prefers the authenticated subject; without auth the
// X-Tenant-ID header scopes sessions instead.
func ownerFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if subject := strings.TrimSpace(identity.Subject); subject != "" {
			return subject
		}
	}
	if tenant := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); tenant != "" {
		return tenant
	}
	return anonymousOwner
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// authorize writes the error response itself and reports whether the
// handler may continue.
func authorize(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "chat sessions are not configured", false, nil)
		return false
	}
	if err := requireRole(r, auth.RoleChatUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !authorize(deps, w, r) {
		return
	}
	owner := ownerFromRequest(r)
	session, err := deps.Sessions.Create(owner)
	if err != nil {
		writeSessionError(deps, w, r, err)
		return
	}
	deps.Logger.InfoContext(r.Context(), "chat session created",
		"session_id", session.ID(),
		"subject", owner,
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID(),
		"tables":     session.Tables(),
	})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !authorize(deps, w, r) {
		return
	}
	session, err := deps.Sessions.Get(r.PathValue("id"), ownerFromRequest(r))
	if err != nil {
		writeSessionError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !authorize(deps, w, r) {
		return
	}
	if err := deps.Sessions.Delete(r.PathValue("id"), ownerFromRequest(r)); err != nil {
		writeSessionError(deps, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleTranscript(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !authorize(deps, w, r) {
		return
	}
	if deps.Transcript == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSCRIPT_NOT_CONFIGURED", "turn transcripts are not enabled", false, nil)
		return
	}
	sessionID := r.PathValue("id")
	if _, err := deps.Sessions.Get(sessionID, ownerFromRequest(r)); err != nil {
		writeSessionError(deps, w, r, err)
		return
	}

	limit := defaultTranscriptLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTranscriptLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("limit must be between 1 and %d", maxTranscriptLimit), false, nil)
			return
		}
		limit = parsed
	}

	turns, err := deps.Transcript.ListBySession(r.Context(), sessionID, limit)
	if errors.Is(err, transcript.ErrNotFound) {
		turns = []transcript.Turn{}
	} else if err != nil {
		deps.Logger.ErrorContext(r.Context(), "list transcript failed", "session_id", sessionID, "error", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "TRANSCRIPT_FETCH_FAILED", "failed to load transcript", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func writeSessionError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, map[string]any{"session_id": r.PathValue("id")})
	case errors.Is(err, chat.ErrSessionBusy):
		writeError(r.Context(), w, http.StatusConflict, "SESSION_BUSY", err.Error(), true, map[string]any{"session_id": r.PathValue("id")})
	case errors.Is(err, chat.ErrTooManySessions):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SESSION_LIMIT", err.Error(), true, nil)
	default:
		deps.Logger.ErrorContext(r.Context(), "chat session failure", "error", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_FAILED", "chat session failure", true, map[string]any{"details": err.Error()})
	}
}
