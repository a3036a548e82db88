package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"clinical-rag/internal/handlers"
)

// Handlers groups everything RegisterRoutes wires up.
type Handlers struct {
	Health  http.HandlerFunc
	Query   *handlers.QueryHandler
	History *handlers.HistoryHandler
	WS      *handlers.WSHandler
}

// RegisterRoutes sets up all application routes
func RegisterRoutes(router *mux.Router, h *Handlers) {
	// Health endpoints
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Streaming chat
	router.HandleFunc("/ws/chat", h.WS.Chat).Methods(http.MethodGet)

	// REST API
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/query", h.Query.Query).Methods(http.MethodPost)
	api.HandleFunc("/history", h.History.ListSessions).Methods(http.MethodGet)
	api.HandleFunc("/history/sessions/{session_id}", h.History.SessionExchanges).Methods(http.MethodGet)
}
