package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buffrsign/engine/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// ClientConfig configures the HTTP AI client.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxResponseBody int64
	CircuitBreaker  *BreakerConfig // nil = defaults
}

// Client is the HTTP implementation of ServicePort. Each capability maps to
// POST {base_url}/api/ai/{capability} with a JSON body. A per-capability
// circuit breaker fails fast when a remote service is flapping.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	maxBody  int64
	breakers *BreakerRegistry
}

// NewClient creates an HTTP AI client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxBody := cfg.MaxResponseBody
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBody
	}
	bcfg := DefaultBreakerConfig()
	if cfg.CircuitBreaker != nil {
		bcfg = *cfg.CircuitBreaker
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		maxBody:  maxBody,
		breakers: NewBreakerRegistry(bcfg),
	}
}

// Call implements ServicePort.
func (c *Client) Call(ctx context.Context, capability string, request map[string]any) (map[string]any, error) {
	if err := c.breakers.AllowRequest(capability); err != nil {
		return nil, err
	}

	out, err := c.doCall(ctx, capability, request)
	if err != nil {
		c.breakers.RecordFailure(capability)
		return nil, err
	}
	c.breakers.RecordSuccess(capability)
	return out, nil
}

func (c *Client) doCall(ctx context.Context, capability string, request map[string]any) (map[string]any, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal ai request: %s", err.Error()).WithCause(err)
	}

	url := fmt.Sprintf("%s/api/ai/%s", c.baseURL, capability)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAIService, "build ai request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAIService,
			"ai service %s: %s", capability, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAIService,
			"read ai response for %s: %s", capability, err.Error()).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeAIService,
			"ai service %s returned status %d", capability, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(data), 512)})
	}

	out := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeAIService,
				"decode ai response for %s: %s", capability, err.Error()).WithCause(err)
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ServicePort = (*Client)(nil)
