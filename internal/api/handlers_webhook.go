/**
 * @description
 * This file contains the handler for the payment gateway's STK push callback.
 * The gateway delivers the outcome of every push here and retries delivery on
 * any non-positive acknowledgement, so this endpoint always acknowledges with
 * the accepted envelope regardless of what reconciliation does with the
 * payload. Reconciliation itself is idempotent, which makes redelivery safe.
 *
 * @dependencies
 * - encoding/json, io, net/http: Standard Go libraries.
 * - internal/app, internal/domain: Reconciliation logic and callback models.
 */

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/lipia/subscription-service/internal/domain"
)

// maxCallbackBodyBytes bounds the callback payload. Real gateway callbacks
// are under 2 KB.
const maxCallbackBodyBytes = 1 << 20

// PaymentCallbackHandler ingests the gateway's asynchronous push result. It
// acknowledges positively even for payloads it cannot use: a negative
// acknowledgement only triggers redelivery of the same payload, and an
// unusable payload stays unusable.
func (h *SubscriptionHandlers) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	defer io.Copy(io.Discard, r.Body)

	var envelope domain.StkCallbackEnvelope
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_callback msg=\"failed to read callback body\" err=%v", err)
		h.writeJSON(w, http.StatusOK, domain.AcceptedAck())
		return
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("level=warn component=api endpoint=payment_callback msg=\"unparsable callback payload\" err=%v", err)
		h.writeJSON(w, http.StatusOK, domain.AcceptedAck())
		return
	}

	cb := envelope.Body.StkCallback
	log.Printf("level=info component=api endpoint=payment_callback msg=\"callback received\" checkout_request_id=%s result_code=%d",
		cb.CheckoutRequestID, cb.ResultCode)

	h.service.ReconcileCallback(r.Context(), cb)

	h.writeJSON(w, http.StatusOK, domain.AcceptedAck())
}
