package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"clinical-rag/internal/models"
)

// State is the lifecycle phase of one streaming session.
type State string

const (
	StateIdle        State = "idle"
	StateProcessing  State = "processing"
	StateRateLimited State = "rate_limited"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
)

const (
	minQuestionRunes = 5
	maxQuestionRunes = 1000
)

// Conn is the transport the session writes frames to. The websocket handler
// adapts *websocket.Conn; tests supply a recording fake.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one authenticated streaming connection. All inbound frames
// pass through Submit; queries are serialized through a bounded queue and
// processed one at a time by the session's worker goroutine, so exchange
// sequence numbers are strictly ordered.
type Session struct {
	id      string
	userID  int64
	conn    Conn
	manager *Manager
	limiter *RateLimiter
	queue   chan *models.InboundMessage

	mu           sync.Mutex
	state        State
	sequence     int
	lastActivity time.Time

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the session identifier sent in the connected frame.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated caller.
func (s *Session) UserID() int64 { return s.userID }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SequenceCounter returns the number of persisted exchanges so far.
func (s *Session) SequenceCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Submit routes one parsed inbound frame. A malformed or unknown frame
// returns ErrProtocolViolation and the caller must close the connection;
// every other failure is answered in-band and keeps the session alive.
func (s *Session) Submit(msg *models.InboundMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: empty message", models.ErrProtocolViolation)
	}

	s.touch()

	switch msg.Type {
	case models.MessagePing:
		s.send(models.OutboundMessage{Type: models.FramePong, Timestamp: s.timestamp()})
		return nil

	case models.MessageClose:
		s.setState(StateClosing)
		s.manager.Close(s)
		return nil

	case models.MessageQuery:
		return s.submitQuery(msg)

	default:
		return fmt.Errorf("%w: unknown message type %q", models.ErrProtocolViolation, msg.Type)
	}
}

func (s *Session) submitQuery(msg *models.InboundMessage) error {
	if !s.limiter.Allow() {
		retry := int(s.limiter.RetryAfter().Seconds())
		if retry < 1 {
			retry = 1
		}
		s.setState(StateRateLimited)
		s.send(models.OutboundMessage{
			Type:              models.FrameRateLimited,
			Message:           "Demasiadas consultas, intenta de nuevo en unos segundos",
			RetryAfterSeconds: retry,
			Timestamp:         s.timestamp(),
		})
		s.manager.logger.Printf("Session %s rate limited, retry in %ds", s.id, retry)
		// The limiter itself decides admission; the state only marks the
		// moment the frame goes out, then the session is idle again.
		s.setState(StateIdle)
		return nil
	}

	question := SanitizeQuestion(msg.Question)
	if err := validateQuery(msg.DocumentType, msg.DocumentNumber, question); err != nil {
		s.sendError(models.CodeInvalidRequest, err.Error())
		return nil
	}
	msg.Question = question

	select {
	case s.queue <- msg:
		return nil
	default:
		s.sendError(models.CodeSessionBusy, "La sesión tiene demasiadas consultas en espera")
		s.manager.logger.Printf("Session %s queue full, query rejected", s.id)
		return nil
	}
}

// run drains the query queue until the session closes. One exchange at a
// time; queued queries wait their turn.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case msg := <-s.queue:
			s.processExchange(msg)
		case <-s.ctx.Done():
			return
		}
	}
}

// processExchange executes the full pipeline for one query: resolve,
// retrieve, assemble, stream, persist. Pipeline failures are answered with
// an error frame; only a disconnect ends the session.
func (s *Session) processExchange(msg *models.InboundMessage) {
	s.setState(StateProcessing)
	defer s.setState(StateIdle)

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, s.manager.config.ExchangeTimeout)
	defer cancel()

	docType, _ := models.DocumentTypeFromID(msg.DocumentType)

	s.sendStatus("Buscando información del paciente...")
	prepared, err := s.manager.deps.Engine.Prepare(ctx, docType, msg.DocumentNumber, msg.Question)
	if err != nil {
		s.sendError(errorCode(err), errorMessage(err))
		s.manager.logger.Printf("Session %s prepare failed: %v", s.id, err)
		return
	}

	s.sendStatus("Generando respuesta...")
	events, err := s.manager.deps.Generator.GenerateStream(ctx, msg.Question, prepared.Context.Text)
	if err != nil {
		s.sendError(errorCode(err), errorMessage(err))
		s.manager.logger.Printf("Session %s stream open failed: %v", s.id, err)
		return
	}

	var answer strings.Builder
	var streamErr error
	completed := false

	for ev := range events {
		switch {
		case ev.Err != nil:
			streamErr = ev.Err
		case ev.Done:
			completed = true
		default:
			answer.WriteString(ev.Token)
			s.send(models.OutboundMessage{Type: models.FrameToken, Token: ev.Token})
		}
	}

	exchange := &models.Exchange{
		ExchangeID: uuid.NewString(),
		SessionID:  s.id,
		UserID:     s.userID,
		PatientID:  prepared.Patient.PatientID,
		Question:   msg.Question,
		AnswerText: answer.String(),
		Sources:    prepared.Context.SourceRefs(),
		ModelUsed:  s.manager.config.ModelName,
		LatencyMS:  time.Since(start).Milliseconds(),
		Status:     models.ExchangeCompleted,
		CreatedAt:  time.Now().UTC(),
	}

	switch {
	case completed:
		seq := s.nextSequence()
		exchange.SequenceID = seq
		s.send(models.OutboundMessage{
			Type:       models.FrameComplete,
			SessionID:  s.id,
			SequenceID: seq,
			Sources:    exchange.Sources,
			Metadata: &models.CompleteMetadata{
				LatencyMS:   exchange.LatencyMS,
				SourcesUsed: len(exchange.Sources),
				ModelUsed:   exchange.ModelUsed,
			},
			Timestamp: s.timestamp(),
		})

	case errors.Is(streamErr, context.Canceled) || s.ctx.Err() != nil:
		// Client went away mid-stream; keep what was generated.
		exchange.SequenceID = s.nextSequence()
		exchange.Status = models.ExchangeTruncated
		s.persistDetached(exchange)
		return

	default:
		exchange.SequenceID = s.nextSequence()
		// A timeout cut off an answer that was flowing; anything else is a
		// generation failure.
		if errors.Is(streamErr, models.ErrTimeout) || errors.Is(streamErr, context.DeadlineExceeded) {
			exchange.Status = models.ExchangeTruncated
		} else {
			exchange.Status = models.ExchangeFailed
		}
		if exchange.AnswerText != "" {
			exchange.AnswerText += "\n[respuesta interrumpida]"
		}
		s.sendError(errorCode(streamErr), errorMessage(streamErr))
		s.manager.logger.Printf("Session %s generation failed at seq %d: %v", s.id, exchange.SequenceID, streamErr)
	}

	// The exchange context may already be expired when the stream timed
	// out; the audit write still has to happen.
	recordCtx := ctx
	if ctx.Err() != nil {
		var cancelRecord context.CancelFunc
		recordCtx, cancelRecord = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelRecord()
	}
	if err := s.manager.deps.Recorder.Record(recordCtx, exchange); err != nil {
		s.send(models.OutboundMessage{
			Type:      models.FrameWarning,
			Message:   "La respuesta no pudo guardarse en el historial",
			Timestamp: s.timestamp(),
		})
	}
}

// persistDetached writes an exchange after the session context is gone.
// Best effort: the client already disconnected, nobody is listening for a
// warning frame.
func (s *Session) persistDetached(exchange *models.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.manager.deps.Recorder.Record(ctx, exchange); err != nil {
		s.manager.logger.Printf("Session %s detached persist failed: %v", s.id, err)
	}
}

func (s *Session) nextSequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns when the session last saw an inbound frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) send(frame models.OutboundMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		s.manager.logger.Printf("Session %s write failed (%s frame): %v", s.id, frame.Type, err)
	}
}

func (s *Session) sendStatus(message string) {
	s.send(models.OutboundMessage{Type: models.FrameStatus, Message: message, Timestamp: s.timestamp()})
}

func (s *Session) sendError(code, message string) {
	s.send(models.OutboundMessage{
		Type:      models.FrameError,
		Error:     &models.ErrorBody{Code: code, Message: message},
		Timestamp: s.timestamp(),
	})
}

func (s *Session) timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// SanitizeQuestion trims the question, strips control characters (keeping
// newlines) and truncates to the maximum length. Over-long questions are
// cut, not rejected. The REST query handler shares it so both entry points
// clean input the same way.
func SanitizeQuestion(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxQuestionRunes {
		cleaned = string(runes[:maxQuestionRunes])
	}
	return cleaned
}

func validateQuery(docTypeID int, documentNumber, question string) error {
	if _, ok := models.DocumentTypeFromID(docTypeID); !ok {
		return fmt.Errorf("tipo de documento inválido: %d", docTypeID)
	}
	if strings.TrimSpace(documentNumber) == "" {
		return errors.New("el número de documento es obligatorio")
	}
	if utf8.RuneCountInString(question) < minQuestionRunes {
		return fmt.Errorf("la pregunta es demasiado corta (mínimo %d caracteres)", minQuestionRunes)
	}
	return nil
}

// errorCode maps pipeline sentinels to wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrPatientNotFound):
		return models.CodePatientNotFound
	case errors.Is(err, models.ErrAmbiguousPatient):
		return models.CodeAmbiguousPatient
	case errors.Is(err, models.ErrRateLimited):
		return models.CodeRateLimited
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.CodeTimeout
	case errors.Is(err, models.ErrGenerationFailed), errors.Is(err, models.ErrProviderUnavailable):
		return models.CodeGenerationFailed
	case errors.Is(err, models.ErrRecordFailed):
		return models.CodeRecordFailed
	case errors.Is(err, models.ErrSessionBusy):
		return models.CodeSessionBusy
	default:
		return models.CodeInternal
	}
}

// errorMessage returns the client-facing text for a pipeline error. Internal
// detail stays in the logs.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrPatientNotFound):
		return "No se encontró un paciente activo con ese documento"
	case errors.Is(err, models.ErrAmbiguousPatient):
		return "El documento corresponde a más de un paciente, contacta al administrador"
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "La consulta tardó demasiado, intenta de nuevo"
	case errors.Is(err, models.ErrGenerationFailed), errors.Is(err, models.ErrProviderUnavailable):
		return "No fue posible generar la respuesta, intenta de nuevo"
	default:
		return "Ocurrió un error procesando la consulta"
	}
}
