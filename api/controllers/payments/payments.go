package payments

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	internalpayments "github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const maxCallbackBody = 1 << 20

type callbackHandler interface {
	HandleCallback(ctx context.Context, gateway enums.PaymentMethod, req internalpayments.CallbackRequest) (*internalpayments.CallbackResult, error)
	HandleWalletReturn(ctx context.Context, req internalpayments.CallbackRequest) (*internalpayments.CallbackResult, error)
}

type statusReader interface {
	Status(ctx context.Context, paymentID uuid.UUID, actor internalorders.Actor) (*internalpayments.StatusView, error)
}

// Webhook receives a gateway notification. Accepted and duplicate callbacks
// both answer 200 so the gateway stops retrying.
func Webhook(svc callbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		gateway, err := enums.ParseGatewaySlug(chi.URLParam(r, "gateway"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown gateway"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body"))
			return
		}

		result, err := svc.HandleCallback(r.Context(), gateway, internalpayments.CallbackRequest{
			Body:   body,
			Header: r.Header.Clone(),
			Query:  r.URL.Query(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// WalletReturn handles the browser redirect back from the wallet. The query
// string carries the same signed fields as the wallet webhook.
func WalletReturn(svc callbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		result, err := svc.HandleWalletReturn(r.Context(), internalpayments.CallbackRequest{
			Header: r.Header.Clone(),
			Query:  r.URL.Query(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Status is the browser poll fallback. It may ask the gateway for a fresh
// answer, throttled per payment.
func Status(svc statusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
		paymentID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		view, err := svc.Status(r.Context(), paymentID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
