package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
)

// Client queries a relay's HTTP surface.
type Client struct {
	base  string
	retry *retryablehttp.Client
	resty *resty.Client
}

// ClientConfig tunes readiness polling.
type ClientConfig struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// DefaultClientConfig polls for up to roughly ten seconds.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryMax:     10,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		Timeout:      5 * time.Second,
	}
}

// HTTPBase converts a relay ws:// or wss:// URL into its http(s) base.
func HTTPBase(relayURL string) string {
	u := strings.TrimRight(relayURL, "/")
	switch {
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	}
	return u
}

// NewClient creates a client for the relay at base (http or ws scheme).
func NewClient(base string, cfg ClientConfig) *Client {
	base = HTTPBase(base)

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "terabithia-relay-client/1.0")

	return &Client{base: base, retry: retryClient, resty: restyClient}
}

// WaitReady polls /health until the relay answers 200 or retries run out.
func (c *Client) WaitReady(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("relay not ready: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay not ready: status %d", resp.StatusCode)
	}
	return nil
}

// Stats fetches the relay's counters.
func (c *Client) Stats(ctx context.Context) (*monitoring.MetricsSnapshot, error) {
	var snap monitoring.MetricsSnapshot
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(&snap).
		Get("/stats")
	if err != nil {
		return nil, fmt.Errorf("relay stats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("relay stats: status %d", resp.StatusCode())
	}
	return &snap, nil
}

// Tabs returns peer counts per live room.
func (c *Client) Tabs(ctx context.Context) (map[string]int, error) {
	var body struct {
		Tabs map[string]int `json:"tabs"`
	}
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/tabs")
	if err != nil {
		return nil, fmt.Errorf("relay tabs: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("relay tabs: status %d", resp.StatusCode())
	}
	return body.Tabs, nil
}
