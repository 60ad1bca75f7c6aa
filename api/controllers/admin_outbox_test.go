package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

type fakeDeadLetters struct {
	rows      []models.OutboxDLQ
	limit     int
	replayed  uuid.UUID
	replayErr error
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]models.OutboxDLQ, error) {
	f.limit = limit
	return f.rows, nil
}

func (f *fakeDeadLetters) Replay(_ context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	f.replayed = eventID
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	return &models.OutboxDLQ{EventID: eventID, EventType: enums.EventPaymentFlagged, ErrorReason: enums.OutboxDLQReasonMaxAttempts}, nil
}

func TestAdminListDeadLetters(t *testing.T) {
	msg := "broker down"
	store := &fakeDeadLetters{rows: []models.OutboxDLQ{{
		EventID:      uuid.New(),
		EventType:    enums.EventOrderStatusChanged,
		ErrorReason:  enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage: &msg,
		AttemptCount: 10,
		FailedAt:     time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}}}

	resp := httptest.NewRecorder()
	AdminListDeadLetters(store, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/dead-letters?limit=5", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 5, store.limit)
	var body struct {
		Data []deadLetterView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "broker down", body.Data[0].Message)
	require.Equal(t, 10, body.Data[0].Attempts)
	require.True(t, body.Data[0].Replayable)

	resp = httptest.NewRecorder()
	AdminListDeadLetters(store, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/dead-letters?limit=5000", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func replayRequest(eventID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/outbox/dead-letters/"+eventID+"/replay", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("eventId", eventID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminReplayDeadLetter(t *testing.T) {
	store := &fakeDeadLetters{}
	eventID := uuid.New()

	resp := httptest.NewRecorder()
	AdminReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest(eventID.String()))
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, eventID, store.replayed)

	store.replayErr = outbox.ErrDeadLetterNotFound
	resp = httptest.NewRecorder()
	AdminReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest(uuid.NewString()))
	require.Equal(t, http.StatusNotFound, resp.Code)

	store.replayErr = errors.New("db down")
	resp = httptest.NewRecorder()
	AdminReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest(uuid.NewString()))
	require.GreaterOrEqual(t, resp.Code, http.StatusInternalServerError)

	resp = httptest.NewRecorder()
	AdminReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest("not-a-uuid"))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
