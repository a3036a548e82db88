package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinical-rag/internal/models"
)

type MockHistoryService struct {
	mock.Mock
}

func (m *MockHistoryService) LoadSession(ctx context.Context, sessionID string) ([]*models.Exchange, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Exchange), args.Error(1)
}

func (m *MockHistoryService) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.SessionSummary, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SessionSummary), args.Error(1)
}

func historyExchange(userID int64, seq int) *models.Exchange {
	return &models.Exchange{
		ExchangeID: "e1",
		SessionID:  "s1",
		SequenceID: seq,
		UserID:     userID,
		PatientID:  7,
		Question:   "¿Qué medicamentos toma?",
		AnswerText: "Toma losartán de 50 mg.",
		Status:     models.ExchangeCompleted,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestListSessions_Success(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	summaries := []*models.SessionSummary{
		{SessionID: "s1", UserID: 3, ExchangeCount: 2, FirstQuestion: "¿Qué medicamentos toma?"},
	}
	service.On("ListSessions", mock.Anything, int64(3), 50).Return(summaries, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.Header.Set("X-User-ID", "3")
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []*models.SessionSummary `json:"sessions"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "s1", body.Sessions[0].SessionID)
}

func TestListSessions_CustomLimit(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	service.On("ListSessions", mock.Anything, int64(3), 5).Return([]*models.SessionSummary{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=5", nil)
	req.Header.Set("X-User-ID", "3")
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	service.AssertExpectations(t)
}

func TestListSessions_MissingUserHeader(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	service.AssertNotCalled(t, "ListSessions", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionExchanges_Success(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	service.On("LoadSession", mock.Anything, "s1").
		Return([]*models.Exchange{historyExchange(3, 1), historyExchange(3, 2)}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions/s1", nil)
	req.Header.Set("X-User-ID", "3")
	req = mux.SetURLVars(req, map[string]string{"session_id": "s1"})
	rec := httptest.NewRecorder()
	handler.SessionExchanges(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SessionID string             `json:"session_id"`
		Exchanges []*models.Exchange `json:"exchanges"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.SessionID)
	require.Len(t, body.Exchanges, 2)
	assert.Equal(t, 1, body.Exchanges[0].SequenceID)
}

func TestSessionExchanges_NotFound(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	service.On("LoadSession", mock.Anything, "missing").
		Return(nil, models.ErrSessionNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions/missing", nil)
	req.Header.Set("X-User-ID", "3")
	req = mux.SetURLVars(req, map[string]string{"session_id": "missing"})
	rec := httptest.NewRecorder()
	handler.SessionExchanges(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionExchanges_OtherUsersSessionHidden(t *testing.T) {
	service := new(MockHistoryService)
	handler := NewHistoryHandler(service, testLogger())

	service.On("LoadSession", mock.Anything, "s1").
		Return([]*models.Exchange{historyExchange(99, 1)}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/sessions/s1", nil)
	req.Header.Set("X-User-ID", "3")
	req = mux.SetURLVars(req, map[string]string{"session_id": "s1"})
	rec := httptest.NewRecorder()
	handler.SessionExchanges(rec, req)

	// Another user's session is indistinguishable from a missing one.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
