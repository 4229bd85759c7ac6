/**
 * @description
 * This file sets up the HTTP router for the usage-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: logging, panic recovery, timeouts, CORS, JWT auth for
 * user-facing routes and the internal API key for service-to-service routes.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// UsageRoutes creates and returns the router for the usage service.
func UsageRoutes(h *UsageHandlers, jwksURL string, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// User-facing routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/usage/me", h.GetCurrentUsageHandler)
		r.Get("/usage/me/history", h.GetUsageHistoryHandler)
		r.Get("/entitlements/me", h.GetEntitlementsHandler)
	})

	// Service-to-service routes guarded by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/quota/check", h.CheckQuotaHandler)
		r.Post("/internal/quota/record", h.RecordUsageHandler)
		r.Put("/internal/subscriptions/{userID}/plan", h.UpdatePlanHandler)
	})

	return r
}
