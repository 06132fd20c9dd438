package connectors

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig configures the ClinicSay API transport.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	RequestsPerSecond float64
	Burst             int

	BreakerFailureThreshold uint32
	BreakerTimeout          time.Duration
}

// Client is the HTTP transport to the ClinicSay API. Every request passes
// the rate limiter and the circuit breaker; responses are normalized into
// APIResponse so callers never touch net/http directly.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a transport client for the configured source system.
func NewClient(config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("transport base URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger.With(zap.String("component", "source_transport")),
	}

	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "clinicsay-api",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return client, nil
}

// Get performs one GET request against a relative endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*APIResponse, error) {
	requestURL := c.buildURL(endpoint)
	if len(query) > 0 {
		requestURL = requestURL + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	return c.do(ctx, req)
}

// Post performs one JSON POST request against a relative endpoint.
func (c *Client) Post(ctx context.Context, endpoint string, body interface{}) (*APIResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(endpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*APIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		return &APIResponse{
			Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
			StatusCode: resp.StatusCode,
			Body:       body,
		}, nil
	})
	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	resp := result.(*APIResponse)
	c.logger.Debug("Request completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return resp, nil
}

func (c *Client) buildURL(endpoint string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
