// Package http implements the outbound transport for the SDK: an HTTP
// client with retries and exponential backoff, a circuit breaker that
// gates every call, credential failover, request signing, and usage
// telemetry extraction from response headers.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/security"
	"github.com/teracrafts/flagkit-go/types"
)

// Usage telemetry headers attached by the server to API responses.
const (
	headerAPIUsage           = "X-API-Usage-Percent"
	headerEvaluationUsage    = "X-Evaluation-Usage-Percent"
	headerRateLimitWarning   = "X-Rate-Limit-Warning"
	headerSubscriptionStatus = "X-Subscription-Status"
)

// ClientConfig configures the transport.
type ClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	Retries        int
	SDKVersion     string
	RequestSigning bool
	Keys           *KeyManager
	Breaker        *CircuitBreaker
	Logger         types.Logger

	// OnUsageUpdate receives telemetry extracted from response headers.
	OnUsageUpdate func(*config.UsageMetrics)

	// OnSubscriptionError receives subscription problems the server reports
	// out of band (suspended, past due).
	OnSubscriptionError func(string)
}

// Client is the HTTP transport used for all API communication.
type Client struct {
	cfg        ClientConfig
	httpClient *stdhttp.Client
	retry      *RetryConfig
}

// NewClient creates a transport. The key manager and breaker are required;
// the breaker is shared so that all endpoints observe the same health.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.SDKVersion == "" {
		cfg.SDKVersion = config.SDKVersion
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(nil, cfg.Logger)
	}

	return &Client{
		cfg: cfg,
		httpClient: &stdhttp.Client{
			Timeout: cfg.Timeout,
		},
		retry: &RetryConfig{
			MaxAttempts:  cfg.Retries,
			BaseDelay:    1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
}

// SetRetryConfig overrides the retry schedule. Used by components that need
// tighter backoff than the defaults.
func (c *Client) SetRetryConfig(rc *RetryConfig) {
	if rc != nil {
		c.retry = rc
	}
}

// Breaker exposes the circuit breaker for state inspection.
func (c *Client) Breaker() *CircuitBreaker {
	return c.cfg.Breaker
}

// Keys exposes the credential manager.
func (c *Client) Keys() *KeyManager {
	return c.cfg.Keys
}

// Get performs a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return WithRetry(ctx, c.retry, c.cfg.Logger, "GET "+path, func() ([]byte, error) {
		return c.do(ctx, stdhttp.MethodGet, path, nil)
	})
}

// Post performs a POST request with a JSON body and returns the response
// body. When request signing is enabled the body is signed with the active
// API key.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrInternal, "failed to encode request body", err)
	}

	return WithRetry(ctx, c.retry, c.cfg.Logger, "POST "+path, func() ([]byte, error) {
		return c.do(ctx, stdhttp.MethodPost, path, payload)
	})
}

// do performs a single attempt. A 401 triggers one inline credential
// failover and re-send; every other outcome maps onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if !c.cfg.Breaker.Allow() {
		return nil, errors.NewError(errors.ErrCircuitOpen, "circuit breaker is open, request rejected")
	}

	body, err := c.send(ctx, method, path, payload)
	if err == nil {
		c.cfg.Breaker.RecordSuccess()
		return body, nil
	}

	// Primary key rejected: swap to the secondary and re-send once.
	if errors.CodeOf(err) == errors.ErrAuthUnauthorized && c.cfg.Keys != nil && c.cfg.Keys.OnAuthRejection() {
		body, err = c.send(ctx, method, path, payload)
		if err == nil {
			c.cfg.Breaker.RecordSuccess()
			return body, nil
		}
	}

	c.cfg.Breaker.RecordFailure()
	return nil, err
}

// send issues the request with the current credential and maps the response.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := stdhttp.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrInternal, "failed to create request", err)
	}

	apiKey := ""
	if c.cfg.Keys != nil {
		apiKey = c.cfg.Keys.Current()
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FlagKit-Go/"+c.cfg.SDKVersion)
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-FlagKit-SDK-Version", c.cfg.SDKVersion)
	req.Header.Set("X-FlagKit-SDK-Language", "go")

	if method == stdhttp.MethodPost && c.cfg.RequestSigning && payload != nil {
		sig := security.CreateRequestSignature(string(payload), apiKey)
		req.Header.Set("X-Signature", sig.Signature)
		req.Header.Set("X-Timestamp", strconv.FormatInt(sig.Timestamp, 10))
		req.Header.Set("X-Key-Id", sig.KeyID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NetworkError(errors.ErrNetworkTimeout, "request cancelled", err)
		}
		return nil, errors.NetworkError(errors.ErrNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	c.extractUsageMetrics(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError(errors.ErrNetworkError, "failed to read response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	return nil, c.statusError(resp.StatusCode, method, path)
}

// statusError maps an HTTP status onto the error taxonomy.
func (c *Client) statusError(status int, method, path string) *errors.FlagKitError {
	switch {
	case status == stdhttp.StatusUnauthorized:
		return errors.AuthenticationError(errors.ErrAuthUnauthorized,
			"API key was rejected by the server")
	case status == stdhttp.StatusForbidden:
		return errors.AuthenticationError(errors.ErrAuthForbidden,
			"API key lacks permission for this operation")
	case status == stdhttp.StatusNotFound:
		return errors.NewError(errors.ErrEvalFlagNotFound,
			fmt.Sprintf("not found: %s %s", method, path))
	case status == stdhttp.StatusTooManyRequests:
		return errors.NewError(errors.ErrNetworkRateLimited, "rate limit exceeded")
	case status >= 500:
		return errors.NewError(errors.ErrNetworkServerError,
			fmt.Sprintf("server error: HTTP %d", status))
	default:
		return errors.NewError(errors.ErrHTTPError,
			fmt.Sprintf("unexpected HTTP status %d", status))
	}
}

// extractUsageMetrics reads usage telemetry headers from a response and
// forwards them to the callback. Absent or malformed headers are skipped;
// an unknown subscription status is dropped rather than surfaced.
func (c *Client) extractUsageMetrics(resp *stdhttp.Response) {
	apiUsage := resp.Header.Get(headerAPIUsage)
	evalUsage := resp.Header.Get(headerEvaluationUsage)
	rateWarning := resp.Header.Get(headerRateLimitWarning)
	subStatus := strings.ToLower(resp.Header.Get(headerSubscriptionStatus))

	if apiUsage == "" && evalUsage == "" && rateWarning == "" && subStatus == "" {
		return
	}

	metrics := &config.UsageMetrics{}

	if apiUsage != "" {
		if v, err := strconv.ParseFloat(apiUsage, 64); err == nil {
			metrics.APIUsagePercent = v
		}
	}
	if evalUsage != "" {
		if v, err := strconv.ParseFloat(evalUsage, 64); err == nil {
			metrics.EvaluationUsagePercent = v
		}
	}
	metrics.RateLimitWarning = strings.EqualFold(rateWarning, "true")

	if subStatus != "" && config.ValidSubscriptionStatuses[subStatus] {
		metrics.SubscriptionStatus = subStatus
	}

	if metrics.RateLimitWarning && c.cfg.Logger != nil {
		c.cfg.Logger.Warn("Approaching API rate limit",
			"api_usage_percent", metrics.APIUsagePercent)
	}

	if (metrics.SubscriptionStatus == "suspended" || metrics.SubscriptionStatus == "past_due") &&
		c.cfg.OnSubscriptionError != nil {
		c.cfg.OnSubscriptionError("subscription status: " + metrics.SubscriptionStatus)
	}

	if c.cfg.OnUsageUpdate != nil {
		c.cfg.OnUsageUpdate(metrics)
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
