// Package client calls the NEUROBOT HTTP API on behalf of the terminal client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
)

const maxResponseSize = 10 << 20

// EmptyReply is shown when the provider answered without any text.
const EmptyReply = "Не удалось получить ответ"

// ErrNoState is returned by PullState when the server holds no state for this device.
var ErrNoState = errors.New("no state stored on server")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Client is an API client bound to one device identity.
type Client struct {
	baseURL    string
	deviceID   string
	sessionID  string
	httpClient *http.Client
}

// New creates a Client. deviceID is sent as the anonymous identity header.
func New(baseURL, deviceID, sessionID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		deviceID:   deviceID,
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SessionID returns the session id this client reports.
func (c *Client) SessionID() string {
	return c.sessionID
}

type chatMessage struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	ChatType string        `json:"chatType"`
	ChatID   string        `json:"chatId,omitempty"`
}

type chatEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Choices []choice `json:"choices"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type choice struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Chat sends the conversation of a chat and returns the reply text. System messages
// are client-side placeholders and are not sent; the server adds the persona prompt.
func (c *Client) Chat(ctx context.Context, chat domain.Chat, messages []domain.Message) (string, error) {
	req := chatRequest{
		Messages: make([]chatMessage, 0, len(messages)),
		ChatType: string(chat.Type),
		ChatID:   chat.ID,
	}
	for _, m := range messages {
		if m.Role.Normalize() == domain.RoleSystem {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: m.Role.Normalize(), Content: m.Content})
	}

	status, body, err := c.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return "", err
	}

	var env chatEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &APIError{Status: status, Message: "Некорректный формат ответа от сервера"}
	}
	if !env.Success {
		apiErr := &APIError{Status: status, Message: "Ошибка при получении ответа от сервера"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return "", apiErr
	}
	if len(env.Data.Choices) == 0 || env.Data.Choices[0].Message == nil {
		return "", &APIError{Status: status, Message: "Некорректный формат ответа от сервера"}
	}
	if content := env.Data.Choices[0].Message.Content; content != "" {
		return content, nil
	}
	return EmptyReply, nil
}

// ImageRequest is an image to describe. Exactly one of Data (base64) and URL is set.
type ImageRequest struct {
	Data   string `json:"imageData,omitempty"`
	URL    string `json:"imageUrl,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// AnalyzeImage returns the description text, or "" when the provider gave none.
func (c *Client) AnalyzeImage(ctx context.Context, req ImageRequest) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/api/analyze-image", req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", plainError(status, body)
	}

	var resp struct {
		Choices []choice `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode image analysis: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// PullState downloads the chat store blob last pushed by any of this user's devices.
func (c *Client) PullState(ctx context.Context) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/state", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNoState
	default:
		return nil, plainError(status, body)
	}
}

// PushState uploads the chat store blob and returns the number of chats stored.
func (c *Client) PushState(ctx context.Context, blob []byte) (int, error) {
	status, body, err := c.do(ctx, http.MethodPut, "/api/state", json.RawMessage(blob))
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, plainError(status, body)
	}
	var resp struct {
		Chats int `json:"chats"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode push response: %w", err)
	}
	return resp.Chats, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.deviceID != "" {
		req.Header.Set(identity.AnonHeaderName, c.deviceID)
	}
	if c.sessionID != "" {
		req.Header.Set(identity.SessionHeaderName, c.sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, body, nil
}

func plainError(status int, body []byte) error {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		return &APIError{Status: status, Message: resp.Error}
	}
	return &APIError{Status: status, Message: http.StatusText(status)}
}
