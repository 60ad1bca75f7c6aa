package controllers

import (
	"net/http"

	"github.com/google/uuid"

	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type orderRooms interface {
	Serve(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) error
}

// OrderRoom upgrades to a WebSocket bound to one order. Errors before the
// upgrade are plain JSON responses.
func OrderRoom(rooms orderRooms, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rooms == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime unavailable"))
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
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		if err := rooms.Serve(w, r.WithContext(ctx), orderID, actor); err != nil {
			responses.WriteError(ctx, logg, w, err)
		}
	}
}
