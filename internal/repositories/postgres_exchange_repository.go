package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"clinical-rag/internal/models"
)

// PostgresExchangeRepository persists completed exchanges in the
// smart_health.chat_exchanges table. Inserts are append-only; the table
// carries a unique (session_id, sequence_id) constraint so a replayed
// write cannot corrupt history.
type PostgresExchangeRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresExchangeRepository creates a repository over the given pool.
func NewPostgresExchangeRepository(pool *pgxpool.Pool) *PostgresExchangeRepository {
	return &PostgresExchangeRepository{pool: pool}
}

// Append inserts one exchange row.
func (r *PostgresExchangeRepository) Append(ctx context.Context, exchange *models.Exchange) error {
	sources, err := json.Marshal(exchange.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO smart_health.chat_exchanges
		        (exchange_id, session_id, sequence_id, user_id, patient_id,
		         question, answer_text, sources, model_used, latency_ms, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exchange.ExchangeID, exchange.SessionID, exchange.SequenceID,
		exchange.UserID, exchange.PatientID, exchange.Question, exchange.AnswerText,
		sources, exchange.ModelUsed, exchange.LatencyMS, string(exchange.Status),
		exchange.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	return nil
}

// ListBySession returns a session's exchanges ordered by sequence id
// ascending, the replay order.
func (r *PostgresExchangeRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Exchange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exchange_id, session_id, sequence_id, user_id, patient_id,
		        question, answer_text, sources, model_used, latency_ms, status, created_at
		 FROM smart_health.chat_exchanges
		 WHERE session_id = $1
		 ORDER BY sequence_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*models.Exchange
	for rows.Next() {
		var ex models.Exchange
		var sources []byte
		var status string
		if err := rows.Scan(
			&ex.ExchangeID, &ex.SessionID, &ex.SequenceID, &ex.UserID, &ex.PatientID,
			&ex.Question, &ex.AnswerText, &sources, &ex.ModelUsed, &ex.LatencyMS,
			&status, &ex.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		if err := json.Unmarshal(sources, &ex.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
		ex.Status = models.ExchangeStatus(status)
		exchanges = append(exchanges, &ex)
	}
	return exchanges, rows.Err()
}

// MaxSequence returns the highest sequence_id persisted for a session,
// zero when the session has no rows.
func (r *PostgresExchangeRepository) MaxSequence(ctx context.Context, sessionID string) (int, error) {
	var seq int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_id), 0)
		 FROM smart_health.chat_exchanges
		 WHERE session_id = $1`,
		sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query max sequence: %w", err)
	}
	return seq, nil
}

// ListSessions returns per-session summaries for a user, most recent first.
func (r *PostgresExchangeRepository) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id,
		        COUNT(*) AS exchange_count,
		        MIN(question) FILTER (WHERE sequence_id = 1) AS first_question,
		        MAX(created_at) AS last_activity
		 FROM smart_health.chat_exchanges
		 WHERE user_id = $1
		 GROUP BY session_id
		 ORDER BY last_activity DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*models.SessionSummary
	for rows.Next() {
		s := &models.SessionSummary{UserID: userID}
		var firstQuestion *string
		if err := rows.Scan(&s.SessionID, &s.ExchangeCount, &firstQuestion, &s.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		if firstQuestion != nil {
			s.FirstQuestion = *firstQuestion
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
