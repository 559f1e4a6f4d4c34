package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blokadaorg/blocka-agent/internal/entitlement"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultBaseURL        = "https://api.blocka.net"
	defaultRequestTimeout = 15 * time.Second
)

// Client talks to the blocka account, gateway, and lease services. It owns
// per-call timeouts and performs no retries; retry policy lives with the
// reconciliation scheduler.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if strings.TrimSpace(userAgent) != "" {
			c.userAgent = userAgent
		}
	}
}

// NewClient constructs a Client with default dependencies.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		userAgent:  "blocka-agent",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAccount creates a fresh account and returns its ID.
func (c *Client) NewAccount(ctx context.Context) (string, error) {
	var out accountEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/account", nil, nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Account.ID) == "" {
		return "", fmt.Errorf("blocka api: new account: empty id in response")
	}
	return out.Account.ID, nil
}

// GetAccount returns the entitlement expiry for an account ID.
func (c *Client) GetAccount(ctx context.Context, accountID string) (time.Time, error) {
	query := url.Values{"account_id": {accountID}}
	var out accountEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/account", query, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Account.ActiveUntil, nil
}

// Gateways fetches the gateway directory.
func (c *Client) Gateways(ctx context.Context) ([]entitlement.Gateway, error) {
	var out gatewaysEnvelope
	if err := c.do(ctx, http.MethodGet, "/v2/gateway", nil, nil, &out); err != nil {
		return nil, err
	}
	gateways := make([]entitlement.Gateway, 0, len(out.Gateways))
	for _, g := range out.Gateways {
		gateways = append(gateways, g.toGateway())
	}
	return gateways, nil
}

// Leases lists the lease records for an account.
func (c *Client) Leases(ctx context.Context, accountID string) ([]entitlement.Lease, error) {
	query := url.Values{"account_id": {accountID}}
	var out leasesEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/lease", query, nil, &out); err != nil {
		return nil, err
	}
	leases := make([]entitlement.Lease, 0, len(out.Leases))
	for _, l := range out.Leases {
		leases = append(leases, l.toLease())
	}
	return leases, nil
}

// NewLease requests a new lease. A 403 from the service means the account
// hit its device limit and maps to entitlement.ErrTooManyDevices.
func (c *Client) NewLease(ctx context.Context, req entitlement.LeaseRequest) (entitlement.Lease, error) {
	var out leaseEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/lease", nil, toLeaseRequestBody(req), &out); err != nil {
		return entitlement.Lease{}, err
	}
	return out.Lease.toLease(), nil
}

// DeleteLease revokes a lease record.
func (c *Client) DeleteLease(ctx context.Context, req entitlement.LeaseRequest) error {
	return c.do(ctx, http.MethodDelete, "/v1/lease", nil, toLeaseRequestBody(req), nil)
}

// do performs one API call: build request, send, check status, decode.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := c.httpClient.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			return fmt.Errorf("blocka api: %s %s: marshal body: %w", method, path, errMarshal)
		}
		reader = bytes.NewReader(payload)
	}

	req, errReq := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if errReq != nil {
		return fmt.Errorf("blocka api: %s %s: build request: %w", method, path, errReq)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return fmt.Errorf("blocka api: %s %s: request failed: %w", method, path, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("blocka api: close response body failed")
		}
	}()

	if resp.StatusCode == http.StatusForbidden && method == http.MethodPost && path == "/v1/lease" {
		return entitlement.ErrTooManyDevices
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("blocka api: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return fmt.Errorf("blocka api: %s %s: read response: %w", method, path, errRead)
	}
	if errUnmarshal := json.Unmarshal(payload, out); errUnmarshal != nil {
		return fmt.Errorf("blocka api: %s %s: decode response: %w", method, path, errUnmarshal)
	}
	return nil
}
