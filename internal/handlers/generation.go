package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	queuePkg "github.com/jwebster45206/tavern-phone/pkg/queue"
)

// Enqueuer accepts generation-ended events for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *queuePkg.Request) error
}

type GenerationHandler struct {
	queue  Enqueuer
	logger *slog.Logger
}

func NewGenerationHandler(q Enqueuer, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{queue: q, logger: logger}
}

// GenerationEndedRequest names the floor that finished. A missing floor id
// means the latest floor.
type GenerationEndedRequest struct {
	FloorID *int `json:"floorId"`
}

type GenerationEndedResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// GenerationEnded queues command processing for a finished floor.
// POST /v1/chats/{chatID}/generation-ended
func (h *GenerationHandler) GenerationEnded(w http.ResponseWriter, r *http.Request) {
	body := GenerationEndedRequest{}
	if r.ContentLength != 0 {
		if !decodeBody(w, r, h.logger, &body) {
			return
		}
	}
	floorID := -1
	if body.FloorID != nil {
		floorID = *body.FloorID
	}

	req := queuePkg.NewGenerationEnded(chi.URLParam(r, "chatID"), floorID)
	err := h.queue.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		h.logger.Info("Ignoring duplicate generation event", "chat_id", req.ChatID, "floor_id", floorID)
		writeJSON(w, h.logger, http.StatusOK, GenerationEndedResponse{Duplicate: true})
	case err != nil:
		h.logger.Error("Failed to enqueue generation event", "error", err, "chat_id", req.ChatID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to queue event.")
	default:
		writeJSON(w, h.logger, http.StatusAccepted, GenerationEndedResponse{RequestID: req.RequestID})
	}
}
