package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"clinical-rag/internal/models"
	"clinical-rag/internal/repositories"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type MockPatientStore struct {
	mock.Mock
}

func (m *MockPatientStore) FindByDocument(ctx context.Context, docType models.DocumentType, documentNumber string) ([]*models.Patient, error) {
	args := m.Called(ctx, docType, documentNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Patient), args.Error(1)
}

type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) search(ctx context.Context, method string, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	args := m.MethodCalled(method, ctx, patientID, queryEmbedding, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RetrievalCandidate), args.Error(1)
}

func (m *MockRecordStore) SearchAppointments(ctx context.Context, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	return m.search(ctx, "SearchAppointments", patientID, queryEmbedding, opts)
}

func (m *MockRecordStore) SearchRecordSummaries(ctx context.Context, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	return m.search(ctx, "SearchRecordSummaries", patientID, queryEmbedding, opts)
}

func (m *MockRecordStore) SearchDiagnoses(ctx context.Context, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	return m.search(ctx, "SearchDiagnoses", patientID, queryEmbedding, opts)
}

func (m *MockRecordStore) SearchPrescriptions(ctx context.Context, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	return m.search(ctx, "SearchPrescriptions", patientID, queryEmbedding, opts)
}

func (m *MockRecordStore) SearchDoctors(ctx context.Context, patientID int64, queryEmbedding []float32, opts repositories.VectorSearchOptions) ([]*models.RetrievalCandidate, error) {
	return m.search(ctx, "SearchDoctors", patientID, queryEmbedding, opts)
}

type MockExchangeStore struct {
	mock.Mock
}

func (m *MockExchangeStore) Append(ctx context.Context, exchange *models.Exchange) error {
	args := m.Called(ctx, exchange)
	return args.Error(0)
}

func (m *MockExchangeStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Exchange, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Exchange), args.Error(1)
}

func (m *MockExchangeStore) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SessionSummary), args.Error(1)
}

func (m *MockExchangeStore) MaxSequence(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

type MockEmbeddingCache struct {
	mock.Mock
}

func (m *MockEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]float32), args.Bool(1), args.Error(2)
}

func (m *MockEmbeddingCache) Set(ctx context.Context, key string, embedding []float32) error {
	args := m.Called(ctx, key, embedding)
	return args.Error(0)
}

// ============================================================================
// Mock Provider Clients
// ============================================================================

type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockCompletionClient) CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (CompletionStream, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(CompletionStream), args.Error(1)
}

// fakeStream replays a fixed token sequence, then a terminal error
// (io.EOF for a normal completion).
type fakeStream struct {
	tokens   []string
	terminal error
	pos      int
	closed   bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		return "", s.terminal
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
