package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/go-chi/chi/v5"
)

// Features describes what this deployment can do, for clients.
type Features struct {
	KeyPoolSize     int
	VisionEnabled   bool
	TelegramEnabled bool
	MaxImageBytes   int64
}

// AccountHandler serves identity, feature and health endpoints.
type AccountHandler struct {
	*Handler
	features Features
}

// NewAccountHandler creates the account handler.
func NewAccountHandler(base *Handler, features Features) *AccountHandler {
	return &AccountHandler{Handler: base, features: features}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.GetHealth)
	})
}

// GetMe returns the current user's information.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	resp := map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"created_at": user.CreatedAt.Unix(),
	}
	if state, err := h.repo.GetChatState(r.Context(), userID); err == nil && state != nil {
		resp["state"] = map[string]interface{}{
			"version":    state.Version,
			"chats":      state.ChatCount,
			"updated_at": state.UpdatedAt.Unix(),
		}
	}
	JSON(w, http.StatusOK, resp)
}

type chatTypeView struct {
	Type  domain.ChatType `json:"type"`
	Label string          `json:"label"`
}

// GetConfig returns the server configuration for clients.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	types := make([]chatTypeView, 0, len(domain.AllChatTypes()))
	for _, t := range domain.AllChatTypes() {
		types = append(types, chatTypeView{Type: t, Label: t.Label()})
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"chat_enabled":     h.features.KeyPoolSize > 0,
		"key_pool_size":    h.features.KeyPoolSize,
		"vision_enabled":   h.features.VisionEnabled,
		"telegram_enabled": h.features.TelegramEnabled,
		"max_image_bytes":  h.features.MaxImageBytes,
		"chat_types":       types,
	})
}

// GetHealth reports database reachability.
func (h *AccountHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unavailable",
			"database": "down",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"database":      "up",
		"key_pool_size": h.features.KeyPoolSize,
	})
}
