package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/middleware"
	"github.com/ashureev/neurobot/internal/vision"
	"github.com/go-chi/chi/v5"
)

// ImageAnalyzer describes images with the vision model.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, req vision.Request) (json.RawMessage, error)
}

// ImageHandler serves POST /api/analyze-image.
type ImageHandler struct {
	*Handler
	analyzer ImageAnalyzer
	limiter  *middleware.RateLimiter
	maxBody  int64
}

// NewImageHandler creates the image analysis handler. limiter may be nil.
func NewImageHandler(base *Handler, analyzer ImageAnalyzer, limiter *middleware.RateLimiter, maxBody int64) *ImageHandler {
	return &ImageHandler{Handler: base, analyzer: analyzer, limiter: limiter, maxBody: maxBody}
}

// RegisterRoutes registers image routes.
func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/analyze-image", h.HandleAnalyze)
}

// HandleAnalyze passes the provider response through verbatim on success.
func (h *ImageHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if h.limiter != nil && userID != "" && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "Слишком много запросов, попробуйте позже.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "Изображение слишком большое.")
			return
		}
		Error(w, http.StatusBadRequest, "Некорректное тело запроса.")
		return
	}

	req, err := vision.ParseRequest(body)
	if err != nil {
		writeVisionError(w, err)
		return
	}

	raw, err := h.analyzer.Analyze(r.Context(), req)
	if err != nil {
		h.logger.Warn("Image analysis failed", "user_id", userID, "error", err)
		writeVisionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		h.logger.Debug("Failed to write image analysis response", "error", err)
	}
}

func writeVisionError(w http.ResponseWriter, err error) {
	var ve *vision.Error
	if errors.As(err, &ve) {
		JSON(w, ve.Status, ve)
		return
	}
	Error(w, http.StatusInternalServerError, "Внутренняя ошибка сервера.")
}
