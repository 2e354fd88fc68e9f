// Package vision forwards single image analysis requests to a vision-capable model.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/neurobot/internal/openrouter"
)

// DefaultPrompt is used when the request carries no prompt.
const DefaultPrompt = "What is in this image? Answer in Russian."

// Upstream performs a single chat completion call with one key.
type Upstream interface {
	ChatCompletion(ctx context.Context, key string, payload any) ([]byte, error)
}

// Error is an analysis failure with the HTTP status it is reported with.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("vision (HTTP %d): %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("vision (HTTP %d): %s", e.Status, e.Message)
}

func badRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

// Request is a validated analysis request. Exactly one of ImageData and ImageURL is set.
type Request struct {
	ImageData string
	ImageURL  string
	Prompt    string
}

type rawRequest struct {
	ImageData json.RawMessage `json:"imageData"`
	ImageURL  json.RawMessage `json:"imageUrl"`
	Prompt    json.RawMessage `json:"prompt"`
}

// ParseRequest decodes and validates a request body.
func ParseRequest(body []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, badRequest("Некорректное тело запроса.")
	}

	data, dataSet, err := optionalString(raw.ImageData)
	if err != nil {
		return Request{}, badRequest("Параметр imageData должен быть строкой base64.")
	}
	url, urlSet, err := optionalString(raw.ImageURL)
	if err != nil {
		return Request{}, badRequest("Параметр imageUrl должен быть строкой.")
	}
	prompt, _, err := optionalString(raw.Prompt)
	if err != nil {
		return Request{}, badRequest("Параметр prompt должен быть строкой.")
	}

	switch {
	case !dataSet && !urlSet:
		return Request{}, badRequest("Необходим параметр imageData (base64 строка) или imageUrl (строка).")
	case dataSet && urlSet:
		return Request{}, badRequest("Укажите только один параметр: imageData или imageUrl.")
	}

	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	return Request{ImageData: data, ImageURL: url, Prompt: prompt}, nil
}

// optionalString treats an absent, null or empty value as unset.
func optionalString(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, err
	}
	return s, s != "", nil
}

// imageURL returns the URL sent upstream: the URL itself, or a data URI for base64 data.
func (r Request) imageURL() string {
	if r.ImageData == "" {
		return r.ImageURL
	}
	if strings.HasPrefix(r.ImageData, "data:") {
		return r.ImageData
	}
	return "data:image/jpeg;base64," + r.ImageData
}

// Analyzer sends requests to the vision model with a single key; there is no rotation.
type Analyzer struct {
	upstream Upstream
	key      string
	model    string
	logger   *slog.Logger
}

// NewAnalyzer creates an Analyzer. An empty key makes every request fail with 500.
func NewAnalyzer(upstream Upstream, key, model string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{upstream: upstream, key: key, model: model, logger: logger}
}

// Configured reports whether a key is available.
func (a *Analyzer) Configured() bool {
	return a.key != ""
}

// Analyze forwards req and returns the raw provider response. Failures are *Error.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	if !a.Configured() {
		return nil, &Error{Status: http.StatusInternalServerError, Message: "Ключ API OpenRouter не настроен на сервере."}
	}

	// The image itself is never logged.
	a.logger.Info("Analyzing image",
		"source", req.source(),
		"payload_bytes", len(req.ImageData)+len(req.ImageURL),
		"model", a.model,
	)

	payload := openrouter.ChatRequest{
		Model: a.model,
		Messages: []openrouter.Message{{
			Role: "user",
			Content: []openrouter.ContentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &openrouter.ImageURL{URL: req.imageURL()}},
			},
		}},
	}

	data, err := a.upstream.ChatCompletion(ctx, a.key, payload)
	if err != nil {
		var se *openrouter.StatusError
		if errors.As(err, &se) {
			a.logger.Error("OpenRouter vision error", "status", se.Status, "body", openrouter.Truncate(se.Body))
			return nil, &Error{
				Status:  se.Status,
				Message: "Ошибка от OpenRouter API: " + statusText(se),
				Details: string(se.Body),
			}
		}
		a.logger.Error("Vision request failed", "error", err)
		return nil, &Error{Status: http.StatusInternalServerError, Message: "Внутренняя ошибка сервера.", Details: err.Error()}
	}

	if !json.Valid(data) {
		a.logger.Error("OpenRouter vision returned non-JSON body", "body", openrouter.Truncate(data))
		return nil, &Error{Status: http.StatusBadGateway, Message: "Некорректный ответ от OpenRouter API."}
	}
	return json.RawMessage(data), nil
}

func (r Request) source() string {
	if r.ImageData != "" {
		return "data"
	}
	return "url"
}

func statusText(se *openrouter.StatusError) string {
	if se.StatusText != "" {
		return se.StatusText
	}
	return http.StatusText(se.Status)
}
