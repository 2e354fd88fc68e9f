// Package openrouter talks to the OpenRouter chat completions API and owns the pool of
// credentials requests rotate through on rate limiting.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// MaxResponseSize bounds how much of an upstream body is read.
	MaxResponseSize = 10 << 20

	// maxLoggedBody bounds upstream error bodies in logs.
	maxLoggedBody = 512
)

var (
	// ErrNoKeys is returned when a request needs a key and none is configured.
	ErrNoKeys = errors.New("no OpenRouter API keys configured")

	// ErrResponseTooLarge is returned when an upstream body exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Status     int
	StatusText string
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("openrouter: HTTP %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("openrouter: HTTP %d", e.Status)
}

// RateLimited reports whether the upstream rejected the key with HTTP 429.
func (e *StatusError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

type apiErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

// Detail returns the upstream "error" object, if the body carried one.
func (e *StatusError) Detail() json.RawMessage {
	var body apiErrorResponse
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil
	}
	if len(body.Error) == 0 || bytes.Equal(body.Error, []byte("null")) {
		return nil
	}
	return body.Error
}

// Message returns error.message from the upstream body, or "".
func (e *StatusError) Message() string {
	detail := e.Detail()
	if detail == nil {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(detail, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(detail, &s); err == nil {
		return s
	}
	return ""
}

// Message is one chat message. Content is a string for text chats and a list of
// ContentPart for multimodal requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatRequest is the body sent to /chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse keeps choices and usage undecoded so they can be passed through verbatim.
type ChatResponse struct {
	Choices []json.RawMessage `json:"choices"`
	Usage   json.RawMessage   `json:"usage"`
}

// HasMessage reports whether choices[0].message is present.
func (r *ChatResponse) HasMessage() bool {
	if len(r.Choices) == 0 {
		return false
	}
	var choice struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(r.Choices[0], &choice); err != nil {
		return false
	}
	m := bytes.TrimSpace(choice.Message)
	return len(m) > 0 && m[0] == '{'
}

// Content returns the text of choices[0].message, or "".
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	var choice struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(r.Choices[0], &choice); err != nil {
		return ""
	}
	return choice.Message.Content
}

// Client performs single requests against the API. It never retries; callers decide
// what a failure means for their key.
type Client struct {
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
	Logger  *slog.Logger
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ChatCompletion POSTs payload to /chat/completions once with the given key and returns
// the raw body of a 2xx response. Non-2xx responses are returned as *StatusError;
// anything else is a transport failure.
func (c *Client) ChatCompletion(ctx context.Context, key string, payload any) ([]byte, error) {
	if key == "" {
		return nil, ErrNoKeys
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	c.setHeaders(req, key)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("OpenRouter response",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"key_fingerprint", Fingerprint(key),
		"bytes", len(data),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       data,
		}
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
}

func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// Truncate shortens an upstream body for logging.
func Truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return string(body[:maxLoggedBody]) + "...(truncated)"
}
