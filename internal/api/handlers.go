/**
 * @description
 * This file contains the HTTP handlers for the subscription-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/daraja: For gateway error types surfaced to API clients.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/app"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
	"github.com/lipia/subscription-service/pkg/daraja"
)

// SubscriptionHandlers holds the application service that handlers will use.
type SubscriptionHandlers struct {
	service *app.Service
}

// NewSubscriptionHandlers creates a new instance of SubscriptionHandlers.
func NewSubscriptionHandlers(service *app.Service) *SubscriptionHandlers {
	return &SubscriptionHandlers{service: service}
}

// SubscribeHandler handles requests to purchase a subscription plan. It
// submits an STK push to the payer's phone and returns immediately; the
// payment completes asynchronously.
func (h *SubscriptionHandlers) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get owner ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.Subscribe(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "subscribe", ownerID, err)
		return
	}

	resp := domain.SubscribeResponse{
		SubscriptionID: sub.ID.String(),
		Status:         sub.Status,
		Message:        "Payment request sent. Enter your M-Pesa PIN on your phone to complete it.",
	}
	if sub.CheckoutRequestID != nil {
		resp.CheckoutRequestID = *sub.CheckoutRequestID
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// ListSubscriptionsHandler returns the caller's subscriptions, newest first.
func (h *SubscriptionHandlers) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get owner ID from context", http.StatusInternalServerError)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	subs, err := h.service.ListSubscriptions(r.Context(), ownerID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_subscriptions msg=\"list failed\" owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list subscriptions")
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	h.writeJSON(w, http.StatusOK, subs)
}

// GetSubscriptionHandler returns one subscription owned by the caller.
func (h *SubscriptionHandlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get owner ID from context", http.StatusInternalServerError)
		return
	}

	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), ownerID, subscriptionID)
	if err != nil {
		h.writeServiceError(w, "get_subscription", ownerID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// StatusCheckHandler queries the payment gateway for the outcome of a pending
// push and applies the resulting transition. Used when the callback never
// arrived (phone off, network loss).
func (h *SubscriptionHandlers) StatusCheckHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get owner ID from context", http.StatusInternalServerError)
		return
	}

	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	sub, err := h.service.CheckPaymentStatus(r.Context(), ownerID, subscriptionID)
	if err != nil {
		h.writeServiceError(w, "status_check", ownerID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// CancelHandler cancels a pending or active subscription owned by the caller.
func (h *SubscriptionHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		http.Error(w, "Could not get owner ID from context", http.StatusInternalServerError)
		return
	}

	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription ID")
		return
	}

	sub, err := h.service.Cancel(r.Context(), ownerID, subscriptionID)
	if err != nil {
		h.writeServiceError(w, "cancel", ownerID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// ListPlansHandler returns the purchasable plan catalog, optionally filtered
// by category.
func (h *SubscriptionHandlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		log.Printf("level=error component=api endpoint=list_plans msg=\"plan lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list plans")
		return
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	h.writeJSON(w, http.StatusOK, plans)
}

// writeServiceError maps service-layer errors onto HTTP responses.
func (h *SubscriptionHandlers) writeServiceError(w http.ResponseWriter, endpoint string, ownerID uuid.UUID, err error) {
	var validationErr *app.ValidationError
	if errors.As(err, &validationErr) {
		h.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	var rateLimitedErr *app.RateLimitedError
	if errors.As(err, &rateLimitedErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitedErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down and try again shortly.")
		return
	}

	if errors.Is(err, store.ErrSubscriptionNotFound) || errors.Is(err, app.ErrNotOwned) {
		// Not-owned reads as not-found so record ids cannot be probed.
		h.writeError(w, http.StatusNotFound, "Subscription not found")
		return
	}

	var gatewayErr *daraja.GatewayError
	if errors.As(err, &gatewayErr) {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=gateway owner_id=%s code=%s err=%v", endpoint, ownerID, gatewayErr.Code, err)
		h.writeError(w, http.StatusPaymentRequired, gatewayErr.Message)
		return
	}

	var networkErr *daraja.NetworkError
	if errors.As(err, &networkErr) {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=gateway_unreachable owner_id=%s err=%v", endpoint, ownerID, err)
		h.writeError(w, http.StatusServiceUnavailable, "Payment provider is unreachable. Please try again shortly.")
		return
	}

	var authErr *daraja.AuthError
	if errors.As(err, &authErr) {
		log.Printf("level=error component=api endpoint=%s outcome=reject reason=gateway_auth owner_id=%s err=%v", endpoint, ownerID, err)
		h.writeError(w, http.StatusBadGateway, "Payment provider rejected our credentials. Please try again shortly.")
		return
	}

	log.Printf("level=error component=api endpoint=%s msg=\"request failed\" owner_id=%s err=%v", endpoint, ownerID, err)
	h.writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
}

// writeJSON is a helper for writing JSON responses.
func (h *SubscriptionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SubscriptionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
