package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/neurobot/internal/chatlog"
	"github.com/ashureev/neurobot/internal/completion"
	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Completer answers chat requests.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	*Handler
	svc     Completer
	log     chatlog.Logger
	limiter *middleware.RateLimiter
	maxBody int64
}

// NewChatHandler creates the chat proxy handler. limiter may be nil.
func NewChatHandler(base *Handler, svc Completer, log chatlog.Logger, limiter *middleware.RateLimiter, maxBody int64) *ChatHandler {
	if log == nil {
		log = chatlog.Noop()
	}
	return &ChatHandler{Handler: base, svc: svc, log: log, limiter: limiter, maxBody: maxBody}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
	ChatType string          `json:"chatType"`
	ChatID   string          `json:"chatId"`
}

// HandleChat proxies a message list to the LLM provider and answers with the
// {success, data | error} envelope.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Chat handler panic", "panic", rec, "request_id", chiMiddleware.GetReqID(r.Context()))
			writeFailure(w, &completion.Error{
				Code:    completion.CodeInternal,
				Status:  http.StatusInternalServerError,
				Message: "Internal server error",
				Details: fmt.Sprint(rec),
			})
		}
	}()

	userID := identity.UserIDFromContext(r.Context())

	// Rate-limit by userID only so clients cannot bypass throttling by rotating sessions.
	if h.limiter != nil && userID != "" && !h.limiter.Allow(userID) {
		writeFailure(w, &completion.Error{
			Code:    completion.CodeRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "Too many requests, slow down",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, &completion.Error{
				Code:    completion.CodeRequestTooLarge,
				Status:  http.StatusRequestEntityTooLarge,
				Message: "Request body too large",
			})
			return
		}
		writeFailure(w, invalidBody(err))
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeFailure(w, invalidBody(err))
		return
	}

	messages, err := parseMessages(req.Messages)
	if err != nil {
		writeFailure(w, invalidBody(err))
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	chatType := domain.ParseChatType(req.ChatType)

	h.logger.Info("Chat request",
		"user_id", userID,
		"chat_type", chatType,
		"messages", len(messages),
		"request_id", reqID,
	)
	if n := len(messages); n > 0 {
		h.logEvent(userID, req.ChatID, "inbound", "chat_user_message", messages[n-1].Content, map[string]any{
			"request_id": reqID,
			"chat_type":  string(chatType),
			"role":       string(messages[n-1].Role),
		})
	}

	start := time.Now()
	res, err := h.svc.Complete(r.Context(), completion.Request{Messages: messages, ChatType: chatType})
	if err != nil {
		var ce *completion.Error
		if !errors.As(err, &ce) {
			ce = &completion.Error{
				Code:    completion.CodeInternal,
				Status:  http.StatusInternalServerError,
				Message: "Internal server error",
				Details: err.Error(),
			}
		}
		h.logger.Warn("Chat request failed", "user_id", userID, "code", ce.Code, "status", ce.Status, "request_id", reqID)
		h.logEvent(userID, req.ChatID, "outbound", "chat_error", ce.Message, map[string]any{
			"request_id": reqID,
			"code":       ce.Code,
			"status":     ce.Status,
		})
		writeFailure(w, ce)
		return
	}

	h.logEvent(userID, req.ChatID, "outbound", "chat_assistant_message", res.Content, map[string]any{
		"request_id":  reqID,
		"attempts":    res.Attempts,
		"canned":      res.Canned,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	writeSuccess(w, res)
}

// parseMessages returns nil when messages is absent or not an array, which the
// completion service reports as MISSING_MESSAGES.
func parseMessages(raw json.RawMessage) ([]domain.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var msgs []domain.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

func invalidBody(err error) *completion.Error {
	return &completion.Error{
		Code:    completion.CodeInvalidRequestBody,
		Status:  http.StatusBadRequest,
		Message: "Invalid request body",
		Details: err.Error(),
	}
}

func (h *ChatHandler) logEvent(userID, chatID, direction, eventType, content string, meta map[string]any) {
	h.log.Log(chatlog.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		ChatID:     chatID,
		Channel:    "chat_http",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    chatlog.Clean(content),
		Meta:       meta,
	})
}
