package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clinical-rag/internal/models"
	"clinical-rag/internal/session"
)

// Authenticator validates the connection credentials before the upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) (userID int64, err error)
}

// WSHandler upgrades chat connections and pumps inbound frames into the
// session manager. Authentication happens before the upgrade; a bad token
// never gets a websocket.
type WSHandler struct {
	manager  *session.Manager
	auth     Authenticator
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSHandler creates a new websocket chat handler.
func NewWSHandler(manager *session.Manager, auth Authenticator, logger *log.Logger) *WSHandler {
	return &WSHandler{
		manager: manager,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST surface already allows any origin; the socket
			// follows the same policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Chat handles GET /ws/chat. Query parameters: token (required),
// session_id (optional, resumes a previous session id).
func (h *WSHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.Printf("Rejected connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	s := h.manager.Open(conn, userID, r.URL.Query().Get("session_id"))
	h.readLoop(conn, s)
}

// readLoop drains inbound frames until the client disconnects, idles out or
// violates the protocol. Malformed JSON and unknown message types cost the
// connection; everything else is answered in-band.
func (h *WSHandler) readLoop(conn *websocket.Conn, s *session.Session) {
	defer h.manager.Close(s)

	idle := h.manager.IdleTimeout()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("Session %s read error: %v", s.ID(), err)
			}
			return
		}

		var msg models.InboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.closeForViolation(conn, s, "malformed message")
			return
		}

		if err := s.Submit(&msg); err != nil {
			if errors.Is(err, models.ErrProtocolViolation) {
				h.closeForViolation(conn, s, "protocol violation")
				return
			}
			h.logger.Printf("Session %s submit failed: %v", s.ID(), err)
		}

		if s.State() == session.StateClosed || s.State() == session.StateClosing {
			return
		}
	}
}

func (h *WSHandler) closeForViolation(conn *websocket.Conn, s *session.Session, reason string) {
	h.logger.Printf("Session %s closed: %s", s.ID(), reason)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
}
