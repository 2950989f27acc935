/**
 * @description
 * OAuth access token lifecycle for the Daraja gateway. The gateway issues
 * short-lived bearer tokens from a client-credentials exchange; every outgoing
 * call (push submission, status query) needs a valid token.
 *
 * Key features:
 * - Single cached token shared across all callers.
 * - Refresh is collapsed through a singleflight group: concurrent callers
 *   hitting an empty or expired cache perform exactly one exchange cycle and
 *   all observe its result, error included. The gateway rate-limits credential
 *   exchanges, so a refresh stampede is the failure mode this cache exists to
 *   prevent.
 * - Bounded retry on transient exchange failures.
 *
 * @dependencies
 * - golang.org/x/sync/singleflight: Deduplicates in-flight exchanges.
 * - context, encoding/json, net/http, sync, time: Standard Go libraries.
 */

package daraja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// tokenSafetyMargin absorbs request latency: a token within this window of
	// its expiry is treated as already expired.
	tokenSafetyMargin = 30 * time.Second

	defaultTokenRetries    = 3
	defaultTokenRetryDelay = 2 * time.Second
	tokenRequestTimeout    = 10 * time.Second
)

// AuthError is returned when the credential exchange fails after exhausting
// retries. It wraps the last underlying cause.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway authentication failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// accessToken is the cached credential. Never persisted.
type accessToken struct {
	value     string
	issuedAt  time.Time
	expiresAt time.Time
}

func (t *accessToken) valid(now time.Time) bool {
	return t != nil && t.value != "" && now.Add(tokenSafetyMargin).Before(t.expiresAt)
}

// tokenResponse models the gateway's token endpoint response. Daraja returns
// expires_in as a JSON string of seconds.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// TokenCache owns the gateway access token and refreshes it on expiry.
// Construct it once per process via NewTokenCache and share it across all
// outgoing calls; the zero value is not usable.
type TokenCache struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client

	mu     sync.Mutex
	token  *accessToken
	flight singleflight.Group

	retries    int
	retryDelay time.Duration
	now        func() time.Time
}

// NewTokenCache creates a token cache with an empty initial state. The first
// Token call performs the initial exchange.
func NewTokenCache(baseURL, consumerKey, consumerSecret string) *TokenCache {
	return &TokenCache{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: tokenRequestTimeout},
		retries:        defaultTokenRetries,
		retryDelay:     defaultTokenRetryDelay,
		now:            time.Now,
	}
}

// Token returns a valid access token, performing a credential exchange if the
// cached token is absent or within the safety margin of its expiry. Callers
// that arrive while an exchange is in flight wait for it and share its
// outcome, so a failing gateway sees one retry cycle per refresh, not one per
// waiter.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.valid(c.now()) {
		value := c.token.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err, _ := c.flight.Do("exchange", func() (interface{}, error) {
		// A refresh may have completed between the check above and this
		// caller winning the flight.
		c.mu.Lock()
		if c.token.valid(c.now()) {
			value := c.token.value
			c.mu.Unlock()
			return value, nil
		}
		c.mu.Unlock()

		token, err := c.exchangeWithRetry(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token.value, nil
	})
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	return value.(string), nil
}

// Invalidate discards the cached token. Callers that receive an HTTP 401 from
// the gateway use this to force a fresh exchange on the next call.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

func (c *TokenCache) exchangeWithRetry(ctx context.Context) (*accessToken, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		token, err := c.exchange(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err

		// Context cancellation and deadline are hard failures; retrying
		// cannot help and only delays the caller further.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}

		if attempt < c.retries {
			log.Printf("level=warn component=daraja_token msg=\"token exchange failed; retrying\" attempt=%d err=%v", attempt, err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *TokenCache) exchange(ctx context.Context) (*accessToken, error) {
	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	lifetime, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || lifetime <= 0 {
		return nil, fmt.Errorf("token response carries invalid expires_in %q", tokenResp.ExpiresIn)
	}

	now := c.now()
	return &accessToken{
		value:     tokenResp.AccessToken,
		issuedAt:  now,
		expiresAt: now.Add(time.Duration(lifetime) * time.Second),
	}, nil
}
