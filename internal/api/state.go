package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/neurobot/internal/chatstore"
	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/statesync"
	"github.com/go-chi/chi/v5"
)

// Broadcaster fans state events out to a user's other sessions.
type Broadcaster interface {
	Broadcast(userID, exceptSession string, ev statesync.Event) int
}

// StateHandler stores the chat store blob of a device so other devices can pull it.
type StateHandler struct {
	*Handler
	hub     Broadcaster
	maxBody int64
}

// NewStateHandler creates the state sync handler. hub may be nil.
func NewStateHandler(base *Handler, hub Broadcaster, maxBody int64) *StateHandler {
	return &StateHandler{Handler: base, hub: hub, maxBody: maxBody}
}

// RegisterRoutes registers state routes.
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/state", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Put("/", h.PutState)
		r.Delete("/", h.DeleteState)
	})
}

// GetState returns the stored blob verbatim.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	state, err := h.repo.GetChatState(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load chat state", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	if state == nil {
		Error(w, http.StatusNotFound, "no state stored")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Last-Modified", state.UpdatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, state.StateJSON); err != nil {
		h.logger.Debug("Failed to write chat state", "error", err)
	}
}

// PutState validates, migrates and stores a blob, then tells the user's other
// sessions to pull.
func (h *StateHandler) PutState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "state too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := chatstore.Decode(body, nil)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, chatstore.ErrUnsupportedVersion) {
			status = http.StatusUnprocessableEntity
		}
		Error(w, status, err.Error())
		return
	}
	normalized, err := chatstore.Encode(snap)
	if err != nil {
		h.logger.Error("Failed to encode chat state", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to encode state")
		return
	}

	state := &domain.ChatState{
		UserID:    userID,
		Version:   chatstore.CurrentVersion,
		StateJSON: string(normalized),
		ChatCount: len(snap.Chats),
		UpdatedAt: time.Now(),
	}
	if err := h.repo.UpsertChatState(r.Context(), state); err != nil {
		h.logger.Error("Failed to store chat state", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to store state")
		return
	}

	notified := 0
	if h.hub != nil {
		notified = h.hub.Broadcast(userID, sessionID, statesync.Event{
			Type:      statesync.EventStateChanged,
			Version:   state.Version,
			Chats:     state.ChatCount,
			UpdatedAt: state.UpdatedAt.Unix(),
			Origin:    sessionID,
		})
	}

	h.logger.Info("Chat state stored", "user_id", userID, "chats", state.ChatCount, "bytes", len(normalized), "notified", notified)
	JSON(w, http.StatusOK, map[string]any{
		"version":   state.Version,
		"chats":     state.ChatCount,
		"updatedAt": state.UpdatedAt.Unix(),
	})
}

// DeleteState forgets the stored blob.
func (h *StateHandler) DeleteState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if err := h.repo.DeleteChatState(r.Context(), userID); err != nil {
		h.logger.Error("Failed to delete chat state", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to delete state")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(userID, sessionID, statesync.Event{Type: statesync.EventStateDeleted, Origin: sessionID})
	}
	w.WriteHeader(http.StatusNoContent)
}
