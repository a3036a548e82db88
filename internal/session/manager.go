package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-rag/internal/models"
	"clinical-rag/internal/services"
)

// Engine prepares the retrieval half of an exchange.
type Engine interface {
	Prepare(ctx context.Context, docType models.DocumentType, documentNumber, question string) (*services.PreparedQuery, error)
}

// Generator streams answer tokens for a prepared context.
type Generator interface {
	GenerateStream(ctx context.Context, question, contextText string) (<-chan services.StreamEvent, error)
}

// Recorder persists one finished exchange and reports where a session's
// persisted numbering stopped.
type Recorder interface {
	Record(ctx context.Context, exchange *models.Exchange) error
	LastSequence(ctx context.Context, sessionID string) (int, error)
}

// Dependencies are the pipeline services the manager drives per exchange.
type Dependencies struct {
	Engine    Engine
	Generator Generator
	Recorder  Recorder
}

// Config bounds session behavior.
type Config struct {
	RateLimit       int
	RateWindow      time.Duration
	QueueDepth      int
	ExchangeTimeout time.Duration
	IdleTimeout     time.Duration
	ModelName       string
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		RateLimit:       20,
		RateWindow:      time.Minute,
		QueueDepth:      4,
		ExchangeTimeout: 120 * time.Second,
		IdleTimeout:     5 * time.Minute,
		ModelName:       "gpt-4o-mini",
	}
}

// Manager owns the table of live streaming sessions. One Session per
// connection; session ids from disconnected clients can be presented again
// to resume the id (history continuity), the in-memory state starts fresh.
type Manager struct {
	deps   Dependencies
	config Config
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager(deps Dependencies, config Config, logger *log.Logger) *Manager {
	if config.RateLimit <= 0 {
		config.RateLimit = 20
	}
	if config.RateWindow <= 0 {
		config.RateWindow = time.Minute
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 4
	}
	if config.ExchangeTimeout <= 0 {
		config.ExchangeTimeout = 120 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	return &Manager{
		deps:     deps,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session for an authenticated connection and sends
// the connected frame. requestedID lets a client resume a prior session id;
// anything invalid or already live gets a fresh UUID instead. A resumed id
// picks up its sequence numbering where the persisted history stopped, so
// new exchange rows never collide with rows the prior connection wrote.
func (m *Manager) Open(conn Conn, userID int64, requestedID string) *Session {
	id, resumed := m.assignID(requestedID)

	sequence := 0
	if resumed {
		last, err := m.lastSequence(id)
		if err != nil {
			// Without the persisted counter a resumed id could repeat
			// sequence numbers; hand out a fresh id instead.
			m.logger.Printf("Resume of session %s refused, history lookup failed: %v", id, err)
			id = uuid.NewString()
		} else {
			sequence = last
			if last > 0 {
				m.logger.Printf("Session %s resumed at sequence %d", id, last)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		userID:       userID,
		conn:         conn,
		manager:      m,
		limiter:      NewRateLimiter(m.config.RateLimit, m.config.RateWindow),
		queue:        make(chan *models.InboundMessage, m.config.QueueDepth),
		state:        StateIdle,
		sequence:     sequence,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.send(models.OutboundMessage{
		Type:      models.FrameConnected,
		SessionID: id,
		Timestamp: s.timestamp(),
	})
	go s.run()

	m.logger.Printf("Session %s opened for user %d", id, userID)
	return s
}

// Close tears down a session: stops the worker, removes it from the table
// and closes the transport. Safe to call more than once.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}

	m.mu.Lock()
	_, live := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()
	if !live {
		return
	}

	s.cancel()
	s.setState(StateClosed)
	if err := s.conn.Close(); err != nil {
		m.logger.Printf("Session %s transport close: %v", s.id, err)
	}
	m.logger.Printf("Session %s closed (%d exchanges)", s.id, s.SequenceCounter())
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IdleTimeout exposes the configured idle bound for the transport's read
// deadline.
func (m *Manager) IdleTimeout() time.Duration {
	return m.config.IdleTimeout
}

func (m *Manager) assignID(requestedID string) (string, bool) {
	if requestedID != "" {
		if _, err := uuid.Parse(requestedID); err == nil {
			m.mu.RLock()
			_, taken := m.sessions[requestedID]
			m.mu.RUnlock()
			if !taken {
				return requestedID, true
			}
			m.logger.Printf("Requested session id %s already live, assigning a new one", requestedID)
		}
	}
	return uuid.NewString(), false
}

func (m *Manager) lastSequence(sessionID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.deps.Recorder.LastSequence(ctx, sessionID)
}
