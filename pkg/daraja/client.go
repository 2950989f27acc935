/**
 * @description
 * This package provides a client for the Daraja mobile-money gateway. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * gateway's STK push and status query endpoints, handling request body
 * construction, password signing, and response parsing.
 *
 * Key features:
 * - Bearer-token authentication through the shared TokenCache.
 * - Push passwords derived from shortcode + passkey + timestamp, per the
 *   gateway's required signing scheme.
 * - Gateway failures mapped to a typed GatewayError carrying a user-facing
 *   message from the result-code table; transport failures surface as
 *   NetworkError.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 */

package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	pushRequestTimeout = 30 * time.Second
	transactionType    = "CustomerPayBillOnline"
	passwordTimeLayout = "20060102150405"
	stkPushPath        = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath       = "/mpesa/stkpushquery/v1/query"
)

// GatewayError is returned when the gateway rejects a request or reports a
// failed outcome. Message is the user-facing sentence from the result-code
// table; Description is the gateway's own text.
type GatewayError struct {
	Code        string
	Description string
	Message     string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Description)
}

// NetworkError is returned when the gateway could not be reached at all, or
// the connection dropped before a response arrived. Transient; the caller may
// suggest a retry, but this client never retries a push on its own because a
// second submission would raise a duplicate PIN prompt on the payer's phone.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway unreachable: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// PushRequest is the value object for a single push-payment initiation
// attempt. Constructed fresh per attempt, never mutated.
type PushRequest struct {
	Phone            string // canonical 254… format
	Amount           int64  // in whole currency units, positive
	AccountReference string // <= 12 chars, echoed back in outcome metadata
	Description      string // <= 13 chars
	CallbackURL      string
}

// PushResult carries the correlation identifiers issued by the gateway at
// submission time. CheckoutRequestID is the key used for all later
// reconciliation. Immutable once returned.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	Description       string
}

// QueryResult is the outcome of an explicit status query for a previously
// submitted push.
type QueryResult struct {
	ResultCode string
	ResultDesc string
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// defaultResultMessages maps known gateway reason codes to short
// human-readable sentences. Unknown codes fall back to the gateway's own
// description text. The table is data, not control flow, so new codes can be
// added without touching the client.
var defaultResultMessages = map[string]string{
	"1":    "Insufficient balance on your mobile money account.",
	"17":   "The payment could not be processed by the gateway. Please try again.",
	"26":   "The payment system is busy. Please try again shortly.",
	"1001": "Another payment is already in progress for this number.",
	"1019": "The payment request expired before it was completed.",
	"1025": "The payment prompt could not be sent to your phone.",
	"1032": "The payment was cancelled on the phone.",
	"1037": "Your phone could not be reached. Make sure it is on and unlocked.",
	"2001": "The PIN entered was incorrect.",
}

// Client is a client for the Daraja gateway. All calls obtain their bearer
// token from the shared TokenCache.
type Client struct {
	BaseURL    string
	ShortCode  string
	Passkey    string
	HTTPClient *http.Client

	tokens         *TokenCache
	resultMessages map[string]string
	now            func() time.Time
}

// NewClient creates a new Daraja gateway client.
func NewClient(baseURL, shortCode, passkey string, tokens *TokenCache) *Client {
	return &Client{
		BaseURL:   baseURL,
		ShortCode: shortCode,
		Passkey:   passkey,
		HTTPClient: &http.Client{
			Timeout: pushRequestTimeout,
		},
		tokens:         tokens,
		resultMessages: defaultResultMessages,
		now:            time.Now,
	}
}

// SetResultMessages replaces the result-code message table, e.g. from
// configuration. Codes absent from the table fall back to the gateway's own
// description.
func (c *Client) SetResultMessages(messages map[string]string) {
	if len(messages) > 0 {
		c.resultMessages = messages
	}
}

// ResultMessage returns the user-facing message for a gateway reason code,
// falling back to the provided gateway description for unknown codes.
func (c *Client) ResultMessage(code, gatewayDesc string) string {
	if msg, ok := c.resultMessages[code]; ok {
		return msg
	}
	return gatewayDesc
}

// password derives the gateway's required request signature:
// base64(shortcode + passkey + timestamp). Not a secret of this design.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + timestamp))
}

// STKPush submits a push-payment request, prompting the payer's phone for a
// PIN. On success the returned PushResult carries the correlation ids the
// caller must persist before any reconciliation can race in.
func (c *Client) STKPush(ctx context.Context, push PushRequest) (*PushResult, error) {
	timestamp := c.now().Format(passwordTimeLayout)

	payload := stkPushPayload{
		BusinessShortCode: c.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            push.Amount,
		PartyA:            push.Phone,
		PartyB:            c.ShortCode,
		PhoneNumber:       push.Phone,
		CallBackURL:       push.CallbackURL,
		AccountReference:  push.AccountReference,
		TransactionDesc:   push.Description,
	}

	var pushResp stkPushResponse
	if err := c.post(ctx, stkPushPath, payload, &pushResp); err != nil {
		return nil, err
	}

	if pushResp.ResponseCode != "0" {
		code := pushResp.ResponseCode
		desc := pushResp.ResponseDescription
		if code == "" {
			code = pushResp.ErrorCode
			desc = pushResp.ErrorMessage
		}
		log.Printf("level=warn component=daraja_client op=stk_push code=%s desc=%q", code, desc)
		return nil, &GatewayError{Code: code, Description: desc, Message: c.ResultMessage(code, desc)}
	}

	return &PushResult{
		MerchantRequestID: pushResp.MerchantRequestID,
		CheckoutRequestID: pushResp.CheckoutRequestID,
		ResponseCode:      pushResp.ResponseCode,
		Description:       pushResp.ResponseDescription,
	}, nil
}

// STKQuery asks the gateway for the outcome of a previously submitted push.
// The query is signed the same way as initiation.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	timestamp := c.now().Format(passwordTimeLayout)

	payload := stkQueryPayload{
		BusinessShortCode: c.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var queryResp stkQueryResponse
	if err := c.post(ctx, stkQueryPath, payload, &queryResp); err != nil {
		return nil, err
	}

	if queryResp.ErrorCode != "" {
		log.Printf("level=warn component=daraja_client op=stk_query code=%s desc=%q", queryResp.ErrorCode, queryResp.ErrorMessage)
		return nil, &GatewayError{
			Code:        queryResp.ErrorCode,
			Description: queryResp.ErrorMessage,
			Message:     c.ResultMessage(queryResp.ErrorCode, queryResp.ErrorMessage),
		}
	}

	return &QueryResult{
		ResultCode: queryResp.ResultCode,
		ResultDesc: queryResp.ResultDesc,
	}, nil
}

// post is a generic helper to execute authenticated JSON requests against the
// gateway. A 401 invalidates the cached token so the next call re-exchanges.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return &AuthError{Cause: fmt.Errorf("gateway rejected token (status %d)", resp.StatusCode)}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("level=warn component=daraja_client path=%s status=%d msg=\"non-2xx response (unparsable body)\"", path, resp.StatusCode)
			return &GatewayError{
				Code:        fmt.Sprintf("http_%d", resp.StatusCode),
				Description: fmt.Sprintf("gateway returned status %d", resp.StatusCode),
				Message:     "The payment service returned an unexpected response.",
			}
		}
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return nil
}
