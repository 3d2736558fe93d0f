package http

import (
	"fmt"
	"net/http"
	"time"

	"Chimp/backend/go/internal/config"
	"Chimp/backend/go/pkg/circuitbreaker"
)

// Client wraps http.Client with optional circuit breaking.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient creates a Client from the circuit breaker configuration.
// timeout bounds each request.
func NewClient(cfg config.CircuitBreakerConfig, timeout time.Duration) (*Client, error) {
	if !cfg.Enabled {
		return NewClientWithBreaker(nil, timeout), nil
	}
	breaker, err := createCircuitBreaker(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithBreaker(breaker, timeout), nil
}

// NewClientWithBreaker creates a Client guarded by breaker, which may be nil.
func NewClientWithBreaker(breaker circuitbreaker.CircuitBreaker, timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}, breaker: breaker}
}

// Do executes req. Transport errors and status codes >= 500 count as
// failures; the response is still returned for the latter.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil && resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return resp, nil
	}
	return resp, err
}
