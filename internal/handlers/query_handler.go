package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"clinical-rag/internal/models"
	"clinical-rag/internal/services"
	"clinical-rag/internal/session"
)

// AnswerEngine runs the full blocking pipeline for one question.
type AnswerEngine interface {
	Answer(ctx context.Context, docType models.DocumentType, documentNumber, question string) (*services.AnswerResult, error)
}

// ExchangeRecorder persists the audit row for a finished exchange.
type ExchangeRecorder interface {
	Record(ctx context.Context, exchange *models.Exchange) error
}

// QueryHandler serves the non-streaming query endpoint. Same pipeline as
// the streaming path, but the caller gets the whole answer in one response.
// Each request is audited as a single-exchange session.
type QueryHandler struct {
	engine   AnswerEngine
	recorder ExchangeRecorder
	logger   *log.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine AnswerEngine, recorder ExchangeRecorder, logger *log.Logger) *QueryHandler {
	return &QueryHandler{
		engine:   engine,
		recorder: recorder,
		logger:   logger,
	}
}

// QueryRequestBody is the POST body for /api/v1/query.
type QueryRequestBody struct {
	DocumentType   int    `json:"patient_document_type"`
	DocumentNumber string `json:"patient_document_number"`
	Question       string `json:"question"`
}

// QueryResponse wraps the pipeline result with the identifiers the audit
// row was written under, so the caller can find it on the history surface.
type QueryResponse struct {
	*services.AnswerResult
	SessionID string `json:"session_id"`
	Warning   string `json:"warning,omitempty"`
}

// Query handles blocking query requests.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	h.logger.Printf("Query request from %s", r.RemoteAddr)

	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var reqBody QueryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		h.logger.Printf("Failed to decode request: %v", err)
		h.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	docType, ok := models.DocumentTypeFromID(reqBody.DocumentType)
	if !ok {
		h.sendError(w, http.StatusBadRequest, "Invalid patient_document_type")
		return
	}
	if strings.TrimSpace(reqBody.DocumentNumber) == "" {
		h.sendError(w, http.StatusBadRequest, "patient_document_number is required")
		return
	}
	// Same cleaning as the streaming path: strip control characters, trim,
	// cut past the maximum length. Only too-short questions are rejected.
	question := session.SanitizeQuestion(reqBody.Question)
	if utf8.RuneCountInString(question) < 5 {
		h.sendError(w, http.StatusBadRequest, "question must be at least 5 characters")
		return
	}

	result, err := h.engine.Answer(r.Context(), docType, reqBody.DocumentNumber, question)
	if err != nil {
		h.logger.Printf("Query failed: %v", err)
		h.sendError(w, statusFor(err), publicMessage(err))
		return
	}

	response := QueryResponse{
		AnswerResult: result,
		SessionID:    uuid.NewString(),
	}

	// Audit write is best-effort: the answer was already produced, a
	// persistence problem becomes a warning, never an error.
	exchange := &models.Exchange{
		ExchangeID: uuid.NewString(),
		SessionID:  response.SessionID,
		SequenceID: 1,
		UserID:     userID,
		PatientID:  result.Patient.PatientID,
		Question:   question,
		AnswerText: result.AnswerText,
		Sources:    result.Sources,
		ModelUsed:  result.ModelUsed,
		LatencyMS:  result.LatencyMS,
		Status:     models.ExchangeCompleted,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.recorder.Record(r.Context(), exchange); err != nil {
		h.logger.Printf("Query audit write failed for session %s: %v", response.SessionID, err)
		response.Warning = "The answer could not be saved to history"
	}

	h.sendJSON(w, http.StatusOK, response)
}

// callerID reads the authenticated user from the X-User-ID header.
func (h *QueryHandler) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
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

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrPatientNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAmbiguousPatient):
		return http.StatusConflict
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, models.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrPatientNotFound):
		return "No active patient matches that document"
	case errors.Is(err, models.ErrAmbiguousPatient):
		return "More than one patient matches that document"
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The query took too long"
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, models.ErrGenerationFailed):
		return "Answer generation is temporarily unavailable"
	default:
		return "Failed to process the query"
	}
}

// Helper methods

func (h *QueryHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("Failed to encode JSON: %v", err)
	}
}

func (h *QueryHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}
