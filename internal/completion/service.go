// Package completion validates chat requests, applies personas and forwards them to the
// upstream provider, rotating through the key pool on rate limiting.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/openrouter"
)

// Upstream performs a single chat completion call with one key.
type Upstream interface {
	ChatCompletion(ctx context.Context, key string, payload any) ([]byte, error)
}

// Config holds the generation parameters sent upstream.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Request is a validated inbound chat request. A nil Messages slice means the client
// did not send a message list.
type Request struct {
	Messages []domain.Message
	ChatType domain.ChatType
}

// Result is the success payload of the chat envelope.
type Result struct {
	Choices []json.RawMessage `json:"choices"`
	Usage   json.RawMessage   `json:"usage"`

	// Content is the reply text, for logging.
	Content string `json:"-"`
	// Attempts counts upstream calls made; zero for canned answers.
	Attempts int  `json:"-"`
	Canned   bool `json:"-"`
}

// Service is the chat completion proxy.
type Service struct {
	upstream Upstream
	pool     *openrouter.KeyPool
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(upstream Upstream, pool *openrouter.KeyPool, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		upstream: upstream,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
	}
}

// PoolSize returns the number of configured keys.
func (s *Service) PoolSize() int {
	return s.pool.Len()
}

// Complete answers req. Failures are always *Error.
func (s *Service) Complete(ctx context.Context, req Request) (*Result, error) {
	if req.Messages == nil {
		return nil, errMissingMessages()
	}

	if n := len(req.Messages); n > 0 {
		last := req.Messages[n-1]
		if last.Role.Normalize() == domain.RoleUser && asksForCreator(last.Content) {
			return cannedResult(CreatorAnswer), nil
		}
	}

	if s.pool.Len() == 0 {
		s.logger.Error("No OpenRouter API keys configured")
		return nil, errNotConfigured()
	}

	payload := s.buildRequest(req)

	maxAttempts := s.pool.Len()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		idx, key := s.pool.Current()
		s.logger.Debug("Attempting OpenRouter request", "key_index", idx, "attempt", attempt)

		data, err := s.upstream.ChatCompletion(ctx, key, payload)
		if err != nil {
			var se *openrouter.StatusError
			if !errors.As(err, &se) {
				s.logger.Error("OpenRouter processing error", "key_index", idx, "error", err)
				return nil, errProcessing(err)
			}
			if se.RateLimited() {
				rotated := s.pool.Rotate(idx)
				s.logger.Warn("API key hit rate limit, rotating",
					"key_index", idx,
					"key_fingerprint", openrouter.Fingerprint(key),
					"attempt", attempt,
					"rotated", rotated,
				)
				continue
			}
			s.logger.Error("OpenRouter API error",
				"key_index", idx,
				"status", se.Status,
				"body", openrouter.Truncate(se.Body),
			)
			return nil, upstreamError(se)
		}

		var resp openrouter.ChatResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Error("OpenRouter returned non-JSON body", "key_index", idx, "body", openrouter.Truncate(data))
			return nil, errProcessing(fmt.Errorf("decode upstream response: %w", err))
		}
		if !resp.HasMessage() {
			s.logger.Error("Invalid response format from OpenRouter", "key_index", idx, "body", openrouter.Truncate(data))
			return nil, errInvalidResponse()
		}

		return &Result{
			Choices:  resp.Choices,
			Usage:    resp.Usage,
			Content:  resp.Content(),
			Attempts: attempt,
		}, nil
	}

	s.logger.Error("All API keys hit rate limit", "pool_size", maxAttempts)
	return nil, errAllKeysLimited()
}

func (s *Service) buildRequest(req Request) openrouter.ChatRequest {
	msgs := make([]openrouter.Message, 0, len(req.Messages)+1)
	if len(req.Messages) == 0 || req.Messages[0].Role.Normalize() != domain.RoleSystem {
		msgs = append(msgs, openrouter.Message{
			Role:    string(domain.RoleSystem),
			Content: SystemPrompt(req.ChatType),
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openrouter.Message{
			Role:    string(m.Role.Normalize()),
			Content: m.Content,
		})
	}

	temperature := s.cfg.Temperature
	return openrouter.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    msgs,
		Temperature: &temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
}

func upstreamError(se *openrouter.StatusError) *Error {
	msg := se.Message()
	if msg == "" {
		msg = fmt.Sprintf("OpenRouter API error (%d)", se.Status)
	}
	e := &Error{Code: CodeUpstreamError, Status: se.Status, Message: msg}
	if detail := se.Detail(); detail != nil {
		e.Details = detail
	}
	return e
}

func cannedResult(content string) *Result {
	choice, _ := json.Marshal(map[string]any{
		"message": map[string]string{
			"role":    string(domain.RoleAssistant),
			"content": content,
		},
	})
	return &Result{
		Choices: []json.RawMessage{choice},
		Usage:   json.RawMessage(`{"total_tokens":0}`),
		Content: content,
		Canned:  true,
	}
}
