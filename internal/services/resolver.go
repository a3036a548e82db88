package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

// PatientResolver maps a (document type, document number) pair to a single
// active patient identity. It is a pure lookup with no side effects.
type PatientResolver struct {
	store  repositories.PatientStore
	logger *log.Logger
}

// NewPatientResolver creates a resolver over the given patient store.
func NewPatientResolver(store repositories.PatientStore, logger *log.Logger) *PatientResolver {
	return &PatientResolver{store: store, logger: logger}
}

// NormalizeDocumentNumber trims whitespace and strips every
// non-alphanumeric rune. Ingestion applies the same normalization, so
// lookups and stored values compare equal; dashes, dots and spaces in
// user input must not cause a miss.
func NormalizeDocumentNumber(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve returns the single active patient matching the document pair.
// Zero active matches is ErrPatientNotFound; more than one is
// ErrAmbiguousPatient and is never silently narrowed to one row.
func (r *PatientResolver) Resolve(ctx context.Context, docType models.DocumentType, documentNumber string) (*models.Patient, error) {
	if !docType.Valid() {
		return nil, fmt.Errorf("%w: unknown document type %q", models.ErrPatientNotFound, docType)
	}

	normalized := NormalizeDocumentNumber(documentNumber)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty document number", models.ErrPatientNotFound)
	}

	matches, err := r.store.FindByDocument(ctx, docType, normalized)
	if err != nil {
		return nil, fmt.Errorf("patient lookup failed: %w", err)
	}

	var active []*models.Patient
	for _, p := range matches {
		if p.Active {
			active = append(active, p)
		}
	}

	switch len(active) {
	case 0:
		return nil, fmt.Errorf("%w: document %s/%s", models.ErrPatientNotFound, docType, normalized)
	case 1:
		return active[0], nil
	default:
		r.logger.Printf("Data integrity: %d active patients share document %s/%s", len(active), docType, normalized)
		return nil, fmt.Errorf("%w: %d active matches for document %s/%s", models.ErrAmbiguousPatient, len(active), docType, normalized)
	}
}
