// Package provider is a client for the unified mail provider API: initial
// sync, delta pulls and change subscriptions.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotReady is returned while the provider is still initializing the account.
	ErrNotReady = errors.New("provider account is not initialized yet")
	// ErrUnauthorized is returned when the access token is rejected.
	ErrUnauthorized = errors.New("provider rejected the access token")
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider API returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider API returned %d", e.StatusCode)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the provider API. It is safe for concurrent use; all
// requests share one rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. requestsPerSecond <= 0 disables rate limiting.
func NewClient(baseURL string, requestsPerSecond float64) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// StartSync asks the provider to prepare a sync window of the last daysWithin days.
func (c *Client) StartSync(ctx context.Context, token string, daysWithin int) (*StartSyncResponse, error) {
	query := url.Values{}
	query.Set("daysWithin", strconv.Itoa(daysWithin))
	query.Set("bodyType", "html")

	var response StartSyncResponse
	if err := c.do(ctx, http.MethodPost, "/email/sync", query, token, struct{}{}, &response); err != nil {
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}
	return &response, nil
}

// PullChanges fetches one page of changes. Pass deltaToken for the first page
// and pageToken for the following ones.
func (c *Client) PullChanges(ctx context.Context, token, deltaToken, pageToken string) (*ChangesPage, error) {
	query := url.Values{}
	if deltaToken != "" {
		query.Set("deltaToken", deltaToken)
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	var page ChangesPage
	if err := c.do(ctx, http.MethodGet, "/email/sync/updated", query, token, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to pull changes: %w", err)
	}
	return &page, nil
}

// CreateSubscription registers callbackURL for message change notifications.
func (c *Client) CreateSubscription(ctx context.Context, token, callbackURL string) (*Subscription, error) {
	body := map[string]string{
		"resource":        "/email/messages",
		"notificationUrl": callbackURL,
	}

	var subscription Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", nil, token, body, &subscription); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &subscription, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(raw, &payload)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: payload.Message, Code: payload.Code}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	detail := apiErr.Message + " " + apiErr.Code
	switch {
	case strings.Contains(detail, "Account is not initialized yet"), strings.Contains(detail, "unavailable"):
		return errors.Join(ErrNotReady, apiErr)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.Join(ErrUnauthorized, apiErr)
	}
	return apiErr
}
