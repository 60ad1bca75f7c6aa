package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

// DeadLetterStore lists and replays outbox events the publisher gave up on.
type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterView struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	AggregateType string    `json:"aggregateType"`
	AggregateID   string    `json:"aggregateId"`
	Reason        string    `json:"reason"`
	Replayable    bool      `json:"replayable"`
	Message       string    `json:"message,omitempty"`
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failedAt"`
}

func viewDeadLetter(d models.OutboxDLQ) deadLetterView {
	v := deadLetterView{
		EventID:       d.EventID.String(),
		EventType:     string(d.EventType),
		AggregateType: string(d.AggregateType),
		AggregateID:   d.AggregateID.String(),
		Reason:        string(d.ErrorReason),
		Replayable:    d.ErrorReason.Replayable(),
		Attempts:      d.AttemptCount,
		FailedAt:      d.FailedAt.UTC(),
	}
	if d.ErrorMessage != nil {
		v.Message = *d.ErrorMessage
	}
	return v
}

func AdminListDeadLetters(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", outbox.DefaultDLQPage, 1, outbox.MaxDLQPage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := store.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		views := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			views = append(views, viewDeadLetter(row))
		}
		responses.WriteSuccess(w, views)
	}
}

// AdminReplayDeadLetter queues a dead-lettered event for publishing again.
func AdminReplayDeadLetter(store DeadLetterStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		eventID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "eventId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}
		entry, err := store.Replay(r.Context(), eventID)
		switch {
		case errors.Is(err, outbox.ErrDeadLetterNotFound):
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "dead letter not found"))
			return
		case err != nil:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay dead letter"))
			return
		}
		logg.Info(logg.WithFields(r.Context(), map[string]any{
			"event_id":   eventID.String(),
			"event_type": entry.EventType,
			"reason":     entry.ErrorReason,
		}), "dead letter replayed")
		responses.WriteSuccessStatus(w, http.StatusAccepted, viewDeadLetter(*entry))
	}
}
