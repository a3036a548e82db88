package models

import "errors"

// Sentinel errors for the engine's failure taxonomy. Services wrap these
// with fmt.Errorf("...: %w", ...) so callers can classify with errors.Is
// while logs keep the full chain. Client-facing messages are derived from
// the sentinel only, never from the wrapped detail.
var (
	// ErrPatientNotFound: no active patient matches the document pair.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrAmbiguousPatient: more than one active patient matches. This is a
	// data-integrity signal and is never auto-resolved.
	ErrAmbiguousPatient = errors.New("ambiguous patient identity")

	// ErrSessionNotFound: the requested chat session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProviderUnavailable: the embedding provider could not be reached
	// after the retry policy was exhausted.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrGenerationFailed: the language-model provider failed or returned
	// an unusable answer.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrTimeout: the end-to-end exchange budget was exceeded.
	ErrTimeout = errors.New("exchange timed out")

	// ErrRecordFailed: the audit write failed. The answer was already
	// delivered, so this surfaces as a warning, not an exchange failure.
	ErrRecordFailed = errors.New("failed to record exchange")

	// ErrRateLimited: the per-session message budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrProtocolViolation: malformed inbound message; closes the connection.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSessionBusy: the per-session exchange queue is full.
	ErrSessionBusy = errors.New("session queue full")
)
