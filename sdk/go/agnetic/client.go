// Package agnetic is a small client for the agneticd HTTP service.
package agnetic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom
// http.Client. A turn may run several chain transactions, so it is long.
const DefaultHTTPTimeout = 5 * time.Minute

// ErrEmptyPrompt is returned before any request is made for a blank prompt.
var ErrEmptyPrompt = errors.New("agnetic: prompt is empty")

// Client wraps the HTTP interactions with an agneticd service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse carries the chunks of one turn in the order they were produced.
type ChatResponse struct {
	Responses []string `json:"responses"`
}

// Text joins the chunks with newlines.
func (r ChatResponse) Text() string {
	return strings.Join(r.Responses, "\n")
}

// APIError represents a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agnetic api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the service at rawURL. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat runs one turn with prompt as the principal message.
func (c *Client) Chat(ctx context.Context, prompt string) (ChatResponse, error) {
	if strings.TrimSpace(prompt) == "" {
		return ChatResponse{}, ErrEmptyPrompt
	}
	var out ChatResponse
	if err := c.post(ctx, "/chat", ChatRequest{Prompt: prompt}, &out); err != nil {
		return ChatResponse{}, err
	}
	if out.Responses == nil {
		out.Responses = []string{}
	}
	return out, nil
}

// Healthy reports whether GET /healthz answers with 200.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
