package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGatewayTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":"3599"}`)
	})
	mux.HandleFunc("/mpesa/", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tokens := NewTokenCache(server.URL, "key", "secret")
	tokens.retryDelay = time.Millisecond
	client := NewClient(server.URL, "174379", "passkey", tokens)
	return server, client
}

func TestSTKPushSubmitsSignedPayload(t *testing.T) {
	var captured stkPushPayload
	_, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != stkPushPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode push payload: %v", err)
		}
		fmt.Fprint(w, `{
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResponseCode": "0",
			"ResponseDescription": "Success. Request accepted for processing"
		}`)
	})

	fixed := time.Date(2019, time.December, 19, 10, 20, 36, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	result, err := client.STKPush(context.Background(), PushRequest{
		Phone:            "254712345678",
		Amount:           500,
		AccountReference: "A1B2C3D4E5F6",
		Description:      "INTERNET",
		CallbackURL:      "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("STKPush returned error: %v", err)
	}

	if result.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout request id %q", result.CheckoutRequestID)
	}
	if result.MerchantRequestID != "29115-34620561-1" {
		t.Fatalf("unexpected merchant request id %q", result.MerchantRequestID)
	}

	if captured.Timestamp != "20191219102036" {
		t.Fatalf("unexpected timestamp %q", captured.Timestamp)
	}
	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20191219102036"))
	if captured.Password != wantPassword {
		t.Fatalf("unexpected password %q", captured.Password)
	}
	if captured.TransactionType != "CustomerPayBillOnline" {
		t.Fatalf("unexpected transaction type %q", captured.TransactionType)
	}
	if captured.PartyA != "254712345678" || captured.PhoneNumber != "254712345678" {
		t.Fatalf("expected payer phone as PartyA and PhoneNumber, got %q / %q", captured.PartyA, captured.PhoneNumber)
	}
	if captured.PartyB != "174379" || captured.BusinessShortCode != "174379" {
		t.Fatalf("expected shortcode as PartyB and BusinessShortCode, got %q / %q", captured.PartyB, captured.BusinessShortCode)
	}
	if captured.Amount != 500 {
		t.Fatalf("unexpected amount %d", captured.Amount)
	}
	if captured.CallBackURL != "https://example.com/callback" {
		t.Fatalf("unexpected callback url %q", captured.CallBackURL)
	}
}

func TestSTKPushMapsGatewayRejection(t *testing.T) {
	_, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errorCode":"1001","errorMessage":"Unable to lock subscriber"}`)
	})

	_, err := client.STKPush(context.Background(), PushRequest{Phone: "254712345678", Amount: 500})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *GatewayError, got %T: %v", err, err)
	}
	if gwErr.Code != "1001" {
		t.Fatalf("unexpected code %q", gwErr.Code)
	}
	if gwErr.Message != "Another payment is already in progress for this number." {
		t.Fatalf("unexpected user message %q", gwErr.Message)
	}
}

func TestSTKPushUnauthorizedInvalidatesToken(t *testing.T) {
	_, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.STKPush(context.Background(), PushRequest{Phone: "254712345678", Amount: 500})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if client.tokens.token != nil {
		t.Fatal("expected cached token to be invalidated after a 401")
	}
}

func TestSTKPushUnreachableGatewayIsNetworkError(t *testing.T) {
	server, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	// Warm the token cache, then kill the server so the push itself fails at
	// the transport level.
	if _, err := client.tokens.Token(context.Background()); err != nil {
		t.Fatalf("token warmup failed: %v", err)
	}
	server.Close()

	_, err := client.STKPush(context.Background(), PushRequest{Phone: "254712345678", Amount: 500})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
}

func TestSTKQueryReturnsOutcome(t *testing.T) {
	var captured stkQueryPayload
	_, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != stkQueryPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode query payload: %v", err)
		}
		fmt.Fprint(w, `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`)
	})

	result, err := client.STKQuery(context.Background(), "ws_CO_191220191020363925")
	if err != nil {
		t.Fatalf("STKQuery returned error: %v", err)
	}
	if captured.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout request id in payload %q", captured.CheckoutRequestID)
	}
	if result.ResultCode != "1032" || result.ResultDesc != "Request cancelled by user" {
		t.Fatalf("unexpected query result %+v", result)
	}
}

func TestResultMessageFallsBackToGatewayDescription(t *testing.T) {
	_, client := newGatewayTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	if got := client.ResultMessage("1032", "ignored"); got != "The payment was cancelled on the phone." {
		t.Fatalf("unexpected mapped message %q", got)
	}
	if got := client.ResultMessage("9999", "Some new gateway text"); got != "Some new gateway text" {
		t.Fatalf("expected fallback to gateway description, got %q", got)
	}
}
