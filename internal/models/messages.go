package models

// Inbound message types accepted on the streaming connection.
const (
	MessageQuery = "query"
	MessagePing  = "ping"
	MessageClose = "close"
)

// Outbound frame types.
const (
	FrameConnected   = "connected"
	FrameStatus      = "status"
	FrameToken       = "token"
	FrameComplete    = "complete"
	FrameError       = "error"
	FrameWarning     = "warning"
	FrameRateLimited = "rate_limited"
	FramePong        = "pong"
)

// InboundMessage is a client frame on the streaming connection. Only the
// fields matching Type are populated.
type InboundMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id,omitempty"`
	DocumentType   int    `json:"patient_document_type,omitempty"`
	DocumentNumber string `json:"patient_document_number,omitempty"`
	Question       string `json:"question,omitempty"`
}

// ErrorBody is the client-facing error payload. Message is always a
// human-readable string distinct from internal error detail.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompleteMetadata rides on the complete frame.
type CompleteMetadata struct {
	LatencyMS   int64  `json:"latency_ms"`
	SourcesUsed int    `json:"sources_used"`
	ModelUsed   string `json:"model_used"`
}

// OutboundMessage is the envelope for every server frame. Fields not used
// by a given frame type are omitted from the JSON.
type OutboundMessage struct {
	Type              string            `json:"type"`
	Message           string            `json:"message,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	Token             string            `json:"token,omitempty"`
	SequenceID        int               `json:"sequence_id,omitempty"`
	Sources           []SourceRef       `json:"sources,omitempty"`
	Metadata          *CompleteMetadata `json:"metadata,omitempty"`
	Error             *ErrorBody        `json:"error,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Timestamp         string            `json:"timestamp,omitempty"`
}

// Error codes used in ErrorBody.Code.
const (
	CodePatientNotFound  = "PATIENT_NOT_FOUND"
	CodeAmbiguousPatient = "AMBIGUOUS_PATIENT"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeTimeout          = "TIMEOUT"
	CodeRecordFailed     = "RECORD_FAILED"
	CodeSessionBusy      = "SESSION_BUSY"
	CodeInternal         = "INTERNAL_ERROR"
)
