/**
 * @description
 * This file defines the Go structs that model the asynchronous payment outcome
 * callback posted by the Daraja gateway after an STK push completes. These
 * structures are essential for safely unmarshaling the nested JSON payload and
 * processing it in a type-safe manner.
 *
 * @notes
 * - The gateway delivers callbacks at-least-once; the reconciler must treat
 *   duplicates as no-ops.
 * - CallbackMetadata is only present on successful outcomes and carries the
 *   receipt number, paid amount, payer phone, and transaction timestamp as
 *   loosely-typed name/value items.
 */

package domain

import (
	"encoding/json"
	"strconv"
)

// Metadata item names used in successful callback payloads.
const (
	MetadataReceiptNumber   = "MpesaReceiptNumber"
	MetadataAmount          = "Amount"
	MetadataPhoneNumber     = "PhoneNumber"
	MetadataTransactionDate = "TransactionDate"
)

// StkCallbackEnvelope is the top-level structure of the webhook payload.
type StkCallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback carries the outcome of a previously submitted push request.
// ResultCode 0 means the payer completed the payment; any other code is a
// failure with ResultDesc as the gateway's own description.
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata wraps the named items attached to a successful outcome.
type CallbackMetadata struct {
	Items []MetadataItem `json:"Item"`
}

// MetadataItem is a single name/value pair from the callback metadata. Values
// arrive as strings or numbers depending on the item, so the raw JSON is kept
// and coerced on access.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// StringValue returns the item's value coerced to a string.
func (i MetadataItem) StringValue() (string, bool) {
	if len(i.Value) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(i.Value, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// Int64Value returns the item's value coerced to an int64, truncating any
// fractional part the gateway sends for whole amounts.
func (i MetadataItem) Int64Value() (int64, bool) {
	if len(i.Value) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(i.Value, &f); err == nil {
		return int64(f), true
	}
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(v), true
		}
	}
	return 0, false
}

// Item looks up a metadata item by name.
func (m *CallbackMetadata) Item(name string) (MetadataItem, bool) {
	if m == nil {
		return MetadataItem{}, false
	}
	for _, item := range m.Items {
		if item.Name == name {
			return item, true
		}
	}
	return MetadataItem{}, false
}

// CallbackAck is the acknowledgement body returned to the gateway. The
// webhook contract requires a positive acknowledgement regardless of what
// happened internally, otherwise the gateway keeps retrying.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// AcceptedAck is the acknowledgement sent for every callback delivery.
func AcceptedAck() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}
