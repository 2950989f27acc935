/**
 * @description
 * This file sets up the HTTP router for the subscription-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SubscriptionRoutes creates and returns a new router for the subscription service.
func SubscriptionRoutes(h *SubscriptionHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The gateway calls this endpoint directly; it cannot present a JWT.
	r.Post("/payments/callback", h.PaymentCallbackHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/plans", h.ListPlansHandler)

		r.Post("/", h.SubscribeHandler)
		r.Get("/", h.ListSubscriptionsHandler)
		r.Get("/{subscriptionID}", h.GetSubscriptionHandler)
		r.Post("/{subscriptionID}/status-check", h.StatusCheckHandler)
		r.Post("/{subscriptionID}/cancel", h.CancelHandler)
	})

	return r
}
