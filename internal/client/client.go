package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kjstillabower/flycompare/internal/observability"
)

// DefaultAutomationURL is the TinyFish automation run endpoint.
const DefaultAutomationURL = "https://agent.tinyfish.ai/v1/automation/run"

// maxResponseBytes caps how much of an automation response is read.
const maxResponseBytes = 10 << 20

// AutomationClient runs one browser automation against a target site.
type AutomationClient interface {
	Run(ctx context.Context, req RunRequest) ([]byte, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	// ErrResponseTooLarge is returned when a response body exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("response too large")
)

// RunRequest is the JSON body sent to the automation API.
type RunRequest struct {
	URL         string      `json:"url"`
	Goal        string      `json:"goal"`
	ProxyConfig ProxyConfig `json:"proxy_config"`
}

// ProxyConfig asks the automation service to route the browsing session through its proxies.
type ProxyConfig struct {
	Enabled bool `json:"enabled"`
}

// sourceLabelKey carries the source name used as a metric label.
type sourceLabelKey struct{}

// WithSourceLabel returns a context whose automation calls are labelled with source in metrics.
func WithSourceLabel(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceLabelKey{}, source)
}

func sourceLabel(ctx context.Context) string {
	if v, ok := ctx.Value(sourceLabelKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// TinyFishClient calls the TinyFish automation API. The response body is returned
// undecoded because its shape depends on what the agent extracted.
type TinyFishClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
}

// NewTinyFishClient returns a client with the given per-call timeout.
func NewTinyFishClient(apiKey, apiURL string, timeout time.Duration) (*TinyFishClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAutomationURL
	}

	return &TinyFishClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Run posts req and returns the raw response body. Non-2xx responses are mapped
// to ErrInvalidAPIKey, ErrRateLimited or ErrUpstreamFailure.
func (c *TinyFishClient) Run(ctx context.Context, req RunRequest) ([]byte, error) {
	start := time.Now()
	source := sourceLabel(ctx)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.buildRequest(reqCtx, req)
	if err != nil {
		observability.AutomationAPICallsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		httpReq.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.AutomationAPICallsTotal.WithLabelValues(source, "error").Inc()
		observability.AutomationAPIDuration.WithLabelValues(source, "error").Observe(duration)

		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.AutomationAPICallsTotal.WithLabelValues(source, status).Inc()
	observability.AutomationAPIDuration.WithLabelValues(source, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}
	return body, nil
}

func (c *TinyFishClient) buildRequest(ctx context.Context, req RunRequest) (*http.Request, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	return httpReq, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
