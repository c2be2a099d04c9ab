// Package quackcore is a thin Go client for the quackd REST API.
package quackcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom
// http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the quackd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// InvokeRequest names one plugin operation and its arguments.
type InvokeRequest struct {
	Kind            string         `json:"kind"`
	Plugin          string         `json:"plugin"`
	Operation       string         `json:"operation"`
	Args            map[string]any `json:"args,omitempty"`
	WaitOnRateLimit bool           `json:"wait_on_rate_limit,omitempty"`
}

// Failure mirrors the server-side failure envelope.
type Failure struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Retriable        bool   `json:"retriable"`
	RetriesExhausted bool   `json:"retries_exhausted"`
}

// InvokeResult is the outcome of one invocation.
type InvokeResult struct {
	OK      bool     `json:"ok"`
	Payload any      `json:"payload"`
	Failure *Failure `json:"failure"`
}

// PluginInfo describes one registered plugin.
type PluginInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`
	Error        string   `json:"error,omitempty"`
}

// APIError represents transport level failures of the API itself, as
// opposed to invocation failures, which arrive inside InvokeResult.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("quackcore api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the quackd API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Invoke runs one plugin operation. A non-nil error means the request
// itself failed; operation failures arrive in the result's Failure field.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result InvokeResult
	if err := c.do(httpReq, &result, http.StatusBadGateway); err != nil {
		return nil, err
	}
	return &result, nil
}

// Plugins lists registered plugins, optionally filtered by kind.
func (c *Client) Plugins(ctx context.Context, kind string) ([]PluginInfo, error) {
	endpoint := "/api/v1/plugins"
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(kind)
	}
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var infos []PluginInfo
	if err := c.do(req, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	target, err := c.baseURL.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// do executes the request and decodes the body. Statuses listed in accept
// are decoded normally even though they are error codes, because the body
// still carries a structured result.
func (c *Client) do(req *http.Request, out any, accept ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		accepted := false
		for _, status := range accept {
			if resp.StatusCode == status {
				accepted = true
				break
			}
		}
		if !accepted {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
