package models

import "time"

// ExchangeStatus records how an exchange ended.
type ExchangeStatus string

const (
	// ExchangeCompleted: the generator reached its completion marker.
	ExchangeCompleted ExchangeStatus = "completed"
	// ExchangeFailed: generation failed mid-stream; AnswerText holds the
	// partial content plus an error marker.
	ExchangeFailed ExchangeStatus = "failed"
	// ExchangeTruncated: the stream was cut short by a timeout or a client
	// disconnect; the partial answer was persisted on a best-effort basis.
	ExchangeTruncated ExchangeStatus = "truncated"
)

// Exchange is one completed question/answer pair, the unit of persisted
// history. Rows are append-only and never mutated after write.
type Exchange struct {
	ExchangeID string         `json:"exchange_id"`
	SessionID  string         `json:"session_id"`
	SequenceID int            `json:"sequence_id"`
	UserID     int64          `json:"user_id"`
	PatientID  int64          `json:"patient_id"`
	Question   string         `json:"question"`
	AnswerText string         `json:"answer_text"`
	Sources    []SourceRef    `json:"sources"`
	ModelUsed  string         `json:"model_used"`
	LatencyMS  int64          `json:"latency_ms"`
	Status     ExchangeStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ChatSession is the in-memory state of one logical conversation. It is
// owned by the session manager for the lifetime of the connection; the
// durable record is the append-only Exchange projection.
type ChatSession struct {
	SessionID       string    `json:"session_id"`
	UserID          int64     `json:"user_id"`
	SequenceCounter int       `json:"sequence_counter"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// SessionSummary is the history-surface view of a persisted session.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	UserID        int64     `json:"user_id"`
	ExchangeCount int       `json:"exchange_count"`
	FirstQuestion string    `json:"first_question"`
	LastActivity  time.Time `json:"last_activity"`
}
