package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/telegram"
	"github.com/go-chi/chi/v5"
)

const maxTelegramBody = 64 << 10

// Publisher talks to the Telegram Bot API.
type Publisher interface {
	GetMe(ctx context.Context, token string) (*telegram.Bot, error)
	Publish(ctx context.Context, token, chatID, text string) (int64, error)
	Edit(ctx context.Context, token, chatID string, messageID int64, text string) error
}

// TelegramHandler manages the caller's Telegram channels.
type TelegramHandler struct {
	*Handler
	bot         Publisher
	verifyToken bool
}

// NewTelegramHandler creates the channel handler. With verifyToken set, new channels
// are rejected unless the Bot API accepts their token.
func NewTelegramHandler(base *Handler, bot Publisher, verifyToken bool) *TelegramHandler {
	return &TelegramHandler{Handler: base, bot: bot, verifyToken: verifyToken}
}

// RegisterRoutes registers telegram routes.
func (h *TelegramHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/telegram", func(r chi.Router) {
		r.Post("/", h.CreateChannel)
		r.Get("/", h.ListChannels)
		r.Delete("/{id}", h.DeleteChannel)
		r.Post("/{id}/publish", h.PublishPost)
	})
}

type channelView struct {
	ID          int64     `json:"id"`
	ChannelName string    `json:"channelName"`
	Token       string    `json:"token"`
	CreatedAt   time.Time `json:"createdAt"`
}

func viewOf(c *domain.TelegramChannel) channelView {
	return channelView{
		ID:          c.ID,
		ChannelName: c.ChannelName,
		Token:       c.MaskedToken(),
		CreatedAt:   c.CreatedAt,
	}
}

func telegramError(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"success": false, "error": message})
}

// CreateChannel registers a channel for the caller.
func (h *TelegramHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req struct {
		Token       string `json:"token"`
		ChannelName string `json:"channelName"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTelegramBody)).Decode(&req); err != nil {
		telegramError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	req.ChannelName = strings.TrimSpace(req.ChannelName)
	if req.Token == "" || req.ChannelName == "" {
		telegramError(w, http.StatusBadRequest, "token and channelName are required")
		return
	}

	if h.verifyToken {
		if _, err := h.bot.GetMe(r.Context(), req.Token); err != nil {
			h.logger.Warn("Telegram token rejected", "user_id", userID, "error", err)
			telegramError(w, http.StatusBadRequest, "telegram rejected the bot token")
			return
		}
	}

	channel := &domain.TelegramChannel{
		Token:       req.Token,
		ChannelName: req.ChannelName,
		UserID:      userID,
	}
	if err := h.repo.CreateTelegramChannel(r.Context(), channel); err != nil {
		h.logger.Error("Failed to create telegram channel", "error", err, "user_id", userID)
		telegramError(w, http.StatusInternalServerError, "failed to save channel")
		return
	}

	h.logger.Info("Telegram channel created", "user_id", userID, "channel_id", channel.ID)
	JSON(w, http.StatusOK, map[string]any{"success": true, "channel": viewOf(channel)})
}

// ListChannels returns the caller's channels, newest first.
func (h *TelegramHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	channels, err := h.repo.ListTelegramChannels(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list telegram channels", "error", err, "user_id", userID)
		telegramError(w, http.StatusInternalServerError, "failed to load channels")
		return
	}

	views := make([]channelView, 0, len(channels))
	for _, c := range channels {
		views = append(views, viewOf(c))
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "channels": views})
}

// DeleteChannel removes one of the caller's channels.
func (h *TelegramHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	deleted, err := h.repo.DeleteTelegramChannel(r.Context(), userID, id)
	if err != nil {
		h.logger.Error("Failed to delete telegram channel", "error", err, "user_id", userID, "channel_id", id)
		telegramError(w, http.StatusInternalServerError, "failed to delete channel")
		return
	}
	if !deleted {
		telegramError(w, http.StatusNotFound, "channel not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

// PublishPost sends a post to the channel, or edits one when messageId is given.
func (h *TelegramHandler) PublishPost(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text      string `json:"text"`
		MessageID int64  `json:"messageId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTelegramBody)).Decode(&req); err != nil {
		telegramError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		telegramError(w, http.StatusBadRequest, "text is required")
		return
	}

	channel, err := h.repo.GetTelegramChannel(r.Context(), userID, id)
	if err != nil {
		h.logger.Error("Failed to load telegram channel", "error", err, "user_id", userID, "channel_id", id)
		telegramError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	if channel == nil {
		telegramError(w, http.StatusNotFound, "channel not found")
		return
	}

	target := chatIDFor(channel.ChannelName)
	messageID := req.MessageID
	if messageID > 0 {
		err = h.bot.Edit(r.Context(), channel.Token, target, messageID, req.Text)
	} else {
		messageID, err = h.bot.Publish(r.Context(), channel.Token, target, req.Text)
	}
	if err != nil {
		h.logger.Warn("Telegram publish failed", "user_id", userID, "channel_id", id, "error", err)
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			telegramError(w, http.StatusBadGateway, apiErr.Description)
			return
		}
		telegramError(w, http.StatusBadGateway, "failed to reach telegram")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"success": true, "messageId": messageID})
}

func channelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		telegramError(w, http.StatusBadRequest, "invalid channel id")
		return 0, false
	}
	return id, true
}

// chatIDFor turns a channel name into a Bot API chat_id: numeric ids and @usernames
// pass through, bare usernames get the @ prefix.
func chatIDFor(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "https://t.me/")
	if strings.HasPrefix(name, "@") {
		return name
	}
	if _, err := strconv.ParseInt(name, 10, 64); err == nil {
		return name
	}
	return "@" + name
}
