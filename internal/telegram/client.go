// Package telegram is a minimal Bot API client for publishing posts to channels.
package telegram

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

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

const maxResponseSize = 1 << 20

// ErrEmptyText is returned when publishing an empty post.
var ErrEmptyText = errors.New("post text cannot be empty")

// APIError is a Bot API response with ok=false.
type APIError struct {
	Status      int
	ErrorCode   int
	Description string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.ErrorCode, e.Description)
}

// Client calls the Bot API. Tokens are passed per call since every channel has its own bot.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for baseURL (DefaultAPIURL if empty).
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Bot describes the bot owning a token.
type Bot struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// GetMe checks a token and returns its bot.
func (c *Client) GetMe(ctx context.Context, token string) (*Bot, error) {
	var bot Bot
	if err := c.call(ctx, token, "getMe", struct{}{}, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// Publish sends text to chatID as HTML and returns the new message id.
func (c *Client) Publish(ctx context.Context, token, chatID, text string) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	var msg sentMessage
	err := c.call(ctx, token, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// Edit replaces the text of a published message.
func (c *Client) Edit(ctx context.Context, token, chatID string, messageID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return c.call(ctx, token, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

func (c *Client) call(ctx context.Context, token, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; report the method only.
		return fmt.Errorf("telegram %s request failed: %w", method, redact(err, token))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		c.logger.Warn("Telegram API rejected request", "method", method, "status", resp.StatusCode, "error_code", ar.ErrorCode, "description", ar.Description)
		return &APIError{Status: resp.StatusCode, ErrorCode: ar.ErrorCode, Description: ar.Description}
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "***"), err: err}
}
