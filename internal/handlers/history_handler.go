package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"clinical-rag/internal/models"
)

// HistoryService serves the persisted exchange history.
type HistoryService interface {
	LoadSession(ctx context.Context, sessionID string) ([]*models.Exchange, error)
	ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error)
}

// HistoryHandler handles HTTP requests for the conversation history surface.
type HistoryHandler struct {
	history HistoryService
	logger  *log.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(history HistoryService, logger *log.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger,
	}
}

// ListSessions returns per-session summaries for the calling user, most
// recent first. The caller is identified by the X-User-ID header.
func (h *HistoryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summaries, err := h.history.ListSessions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Printf("List sessions failed for user %d: %v", userID, err)
		h.sendError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if summaries == nil {
		summaries = []*models.SessionSummary{}
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

// SessionExchanges returns one session's exchanges in replay order. Callers
// only see their own sessions.
func (h *HistoryHandler) SessionExchanges(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	sessionID := mux.Vars(r)["session_id"]
	exchanges, err := h.history.LoadSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			h.sendError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Printf("Load session %s failed: %v", sessionID, err)
		h.sendError(w, http.StatusInternalServerError, "Failed to load session history")
		return
	}

	if exchanges[0].UserID != userID {
		h.logger.Printf("User %d denied access to session %s (owner %d)", userID, sessionID, exchanges[0].UserID)
		h.sendError(w, http.StatusNotFound, "Session not found")
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"exchanges":  exchanges,
		"count":      len(exchanges),
	})
}

// callerID reads the authenticated user from the X-User-ID header.
func (h *HistoryHandler) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		h.sendError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		h.sendError(w, http.StatusUnauthorized, "Invalid X-User-ID header")
		return 0, false
	}
	return userID, true
}

func (h *HistoryHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("Failed to encode JSON: %v", err)
	}
}

func (h *HistoryHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}
