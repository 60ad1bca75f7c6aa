package controllers

import (
	"context"
	"net/http"
	"strings"

	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type adminStatusRequest struct {
	Status string  `json:"status" validate:"required,order_status"`
	Note   *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

type adminStatusSetter interface {
	AdminSetStatus(ctx context.Context, input internalorders.AdminStatusInput, actor internalorders.Actor) (internalorders.TransitionResult, error)
}

// AdminSetOrderStatus applies an operator override through the state machine.
func AdminSetOrderStatus(svc adminStatusSetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := ordercontrollers.ParseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		var note *string
		if req.Note != nil {
			if clean := validators.SanitizeString(*req.Note, 500); clean != "" {
				note = &clean
			}
		}

		result, err := svc.AdminSetStatus(r.Context(), internalorders.AdminStatusInput{
			OrderID: orderID,
			Status:  status,
			Note:    note,
		}, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
