package repositories

import (
	"context"

	"clinical-rag/internal/models"
)

// VectorSearchOptions bounds a per-source vector query.
type VectorSearchOptions struct {
	// Limit is the per-source candidate cap.
	Limit int
	// YearsBack restricts candidates to records newer than this many years.
	// Zero disables the window.
	YearsBack int
}

// PatientStore looks up patient identities. Rows are owned by the external
// record store; this engine never writes them.
type PatientStore interface {
	// FindByDocument returns every patient row matching the document pair,
	// active or not. The resolver decides what multiple matches mean.
	FindByDocument(ctx context.Context, docType models.DocumentType, documentNumber string) ([]*models.Patient, error)
}

// RecordStore exposes the typed vector-similarity queries the hybrid
// retriever fans out over. Every query is hard-scoped to patientID;
// returned candidates carry Similarity (0-1, higher is closer) and
// OccurredAt, with the remaining scores left for the retriever.
type RecordStore interface {
	SearchAppointments(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error)
	SearchRecordSummaries(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error)
	SearchDiagnoses(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error)
	SearchPrescriptions(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error)
	SearchDoctors(ctx context.Context, patientID int64, queryEmbedding []float32, opts VectorSearchOptions) ([]*models.RetrievalCandidate, error)
}

// ExchangeStore persists completed exchanges. Append is append-only; rows
// are never mutated after write. MaxSequence reports the highest persisted
// sequence_id for a session (zero when none), so a resumed session can
// continue numbering where the previous connection stopped.
type ExchangeStore interface {
	Append(ctx context.Context, exchange *models.Exchange) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Exchange, error)
	ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error)
	MaxSequence(ctx context.Context, sessionID string) (int, error)
}

// EmbeddingCache fronts the embedding provider with a shared TTL'd cache.
// A miss is (nil, false, nil); errors are reserved for transport failures.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, embedding []float32) error
}
