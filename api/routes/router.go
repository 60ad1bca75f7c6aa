package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/payments"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// RedisStore is the slice of the Redis client the HTTP layer needs.
type RedisStore interface {
	middleware.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

// RoomServer upgrades a request into a per-order WebSocket room.
type RoomServer interface {
	Serve(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor orders.Actor) error
}

type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    RedisStore
	Orders   orders.Service
	Payments payments.Service
	Rooms    RoomServer
	// DeadLetters backs the outbox DLQ admin endpoints; nil answers 500.
	DeadLetters controllers.DeadLetterStore
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	placeOrderPolicy := middleware.NewRateLimitPolicy(
		"place-order",
		cfg.RateLimit.Window,
		cfg.RateLimit.PlaceOrderIPLimit,
		cfg.RateLimit.PlaceOrderUserLimit,
	)
	paymentStatusPolicy := middleware.NewRateLimitPolicy(
		"payment-status",
		cfg.RateLimit.Window,
		cfg.RateLimit.PaymentStatusIPLimit,
		0,
	)

	idempotent := func(action string, ttl time.Duration) func(http.Handler) http.Handler {
		return middleware.Idempotent(middleware.IdempotencyPolicy{Action: action, TTL: ttl}, d.Redis, logg)
	}

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    d.DB,
			"redis": d.Redis,
		}))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.With(middleware.QueryTokenAuth(cfg.JWT, logg)).Get("/ws/orders/{orderId}", controllers.OrderRoom(d.Rooms, logg))

	r.Route("/api/v1", func(r chi.Router) {
		// Gateways authenticate with signatures, not JWTs.
		r.Post("/payments/{gateway}/webhook", paymentcontrollers.Webhook(d.Payments, logg))
		r.Get("/payments/wallet/return", paymentcontrollers.WalletReturn(d.Payments, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(middleware.RateLimit(paymentStatusPolicy, d.Redis, logg)).
				Get("/payments/{paymentId}/status", paymentcontrollers.Status(d.Payments, logg))

			r.With(
				middleware.RequireRole(logg, enums.ActorRoleCustomer),
				middleware.RateLimit(placeOrderPolicy, d.Redis, logg),
				idempotent("place-order", cfg.App.PlaceIdempotencyTTL),
			).Post("/orders", ordercontrollers.Place(d.Orders, logg))
			r.Get("/orders", ordercontrollers.List(d.Orders, logg))
			r.Get("/orders/{orderId}", ordercontrollers.Detail(d.Orders, logg))
			r.With(idempotent("cancel-order", cfg.App.IdempotencyTTL)).
				Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))
			r.With(idempotent("confirm-received", cfg.App.IdempotencyTTL)).
				Post("/orders/{orderId}/confirm-received", ordercontrollers.ConfirmReceived(d.Orders, logg))

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
				r.With(idempotent("admin-order-status", cfg.App.IdempotencyTTL)).
					Post("/orders/{orderId}/status", controllers.AdminSetOrderStatus(d.Orders, logg))
				r.Get("/outbox/dead-letters", controllers.AdminListDeadLetters(d.DeadLetters, logg))
				r.Post("/outbox/dead-letters/{eventId}/replay", controllers.AdminReplayDeadLetter(d.DeadLetters, logg))
			})
		})
	})

	return r
}
