package services

import (
	"context"
	"log"
	"time"

	"clinical-rag/internal/models"
)

// IdentityResolver resolves a document pair to one active patient.
type IdentityResolver interface {
	Resolve(ctx context.Context, docType models.DocumentType, documentNumber string) (*models.Patient, error)
}

// QuestionEmbedder turns a question into a query vector.
type QuestionEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CandidateRetriever performs the hybrid per-patient retrieval.
type CandidateRetriever interface {
	Retrieve(ctx context.Context, patientID int64, queryEmbedding []float32, question string, limit int) ([]*models.RetrievalCandidate, error)
}

// ContextBuilder packs candidates into a bounded context.
type ContextBuilder interface {
	Assemble(patient *models.Patient, candidates []*models.RetrievalCandidate) *models.AssembledContext
}

// AnswerCompleter produces a blocking answer for a prepared context.
type AnswerCompleter interface {
	Generate(ctx context.Context, question, contextText string) (string, string, error)
}

// PreparedQuery is the retrieval half of an exchange: everything up to and
// including context assembly, ready for the generator.
type PreparedQuery struct {
	Patient *models.Patient
	Context *models.AssembledContext
}

// AnswerResult is a full non-streaming exchange result.
type AnswerResult struct {
	Patient          *models.Patient     `json:"patient"`
	AnswerText       string              `json:"answer_text"`
	ModelUsed        string              `json:"model_used"`
	Sources          []models.SourceRef  `json:"sources"`
	LatencyMS        int64               `json:"latency_ms"`
	ContextTruncated bool                `json:"context_truncated"`
}

// Engine wires resolver, embedder, retriever and assembler into the shared
// retrieval pipeline. The streaming session manager consumes Prepare and
// drives the generator itself; the REST query path uses Answer.
type Engine struct {
	resolver  IdentityResolver
	embedder  QuestionEmbedder
	retriever CandidateRetriever
	assembler ContextBuilder
	generator AnswerCompleter
	limit     int
	logger    *log.Logger
}

// NewEngine assembles the pipeline. limit caps retrieval per exchange.
func NewEngine(
	resolver IdentityResolver,
	embedder QuestionEmbedder,
	retriever CandidateRetriever,
	assembler ContextBuilder,
	generator AnswerCompleter,
	limit int,
	logger *log.Logger,
) *Engine {
	return &Engine{
		resolver:  resolver,
		embedder:  embedder,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		limit:     limit,
		logger:    logger,
	}
}

// Prepare runs resolve → embed → retrieve → assemble. A resolver failure
// short-circuits: the retriever is never consulted for an unresolved
// patient.
func (e *Engine) Prepare(ctx context.Context, docType models.DocumentType, documentNumber, question string) (*PreparedQuery, error) {
	patient, err := e.resolver.Resolve(ctx, docType, documentNumber)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	candidates, err := e.retriever.Retrieve(ctx, patient.PatientID, queryEmbedding, question, e.limit)
	if err != nil {
		return nil, err
	}

	assembled := e.assembler.Assemble(patient, candidates)
	e.logger.Printf("Prepared query for patient %d: %d candidates, %d included, %d chars",
		patient.PatientID, len(candidates), len(assembled.Included), assembled.TotalChars)

	return &PreparedQuery{Patient: patient, Context: assembled}, nil
}

// Answer runs the full blocking pipeline for non-streaming callers.
func (e *Engine) Answer(ctx context.Context, docType models.DocumentType, documentNumber, question string) (*AnswerResult, error) {
	start := time.Now()

	prepared, err := e.Prepare(ctx, docType, documentNumber, question)
	if err != nil {
		return nil, err
	}

	answer, model, err := e.generator.Generate(ctx, question, prepared.Context.Text)
	if err != nil {
		return nil, err
	}

	return &AnswerResult{
		Patient:          prepared.Patient,
		AnswerText:       answer,
		ModelUsed:        model,
		Sources:          prepared.Context.SourceRefs(),
		LatencyMS:        time.Since(start).Milliseconds(),
		ContextTruncated: prepared.Context.Truncated,
	}, nil
}
