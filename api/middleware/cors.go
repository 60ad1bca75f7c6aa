package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the storefront call the API and read the idempotency replay
// marker. Without configured origins only the local storefront is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, ReplayedHeader, "Retry-After"},
		// bearer tokens travel in headers, not cookies
		AllowCredentials: false,
		MaxAge:           600,
	})
}
