package services

import (
	"context"
	"fmt"
	"log"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

// Recorder persists completed exchanges and serves the history surface.
// A failed write is surfaced to the caller as ErrRecordFailed but never
// reopens the exchange; the answer was already delivered.
type Recorder struct {
	store  repositories.ExchangeStore
	logger *log.Logger
}

// NewRecorder creates a recorder over the given exchange store.
func NewRecorder(store repositories.ExchangeStore, logger *log.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one exchange.
func (r *Recorder) Record(ctx context.Context, exchange *models.Exchange) error {
	if err := r.store.Append(ctx, exchange); err != nil {
		r.logger.Printf("Exchange write failed for session %s seq %d: %v",
			exchange.SessionID, exchange.SequenceID, err)
		return fmt.Errorf("%w: %v", models.ErrRecordFailed, err)
	}
	return nil
}

// LastSequence returns the highest sequence id already persisted for a
// session, zero for a session with no history. A resumed session seeds its
// counter from this so new rows never collide with prior ones.
func (r *Recorder) LastSequence(ctx context.Context, sessionID string) (int, error) {
	seq, err := r.store.MaxSequence(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return seq, nil
}

// LoadSession returns a session's exchanges in replay order (sequence id
// ascending). An unknown session is ErrSessionNotFound.
func (r *Recorder) LoadSession(ctx context.Context, sessionID string) ([]*models.Exchange, error) {
	exchanges, err := r.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	return exchanges, nil
}

// ListSessions returns per-session summaries for a user, most recent first.
func (r *Recorder) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	summaries, err := r.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return summaries, nil
}
