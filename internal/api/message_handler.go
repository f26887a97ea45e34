package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/api/shared"
	"github.com/mkessel/outrider/internal/queue"
)

// MessageHandler handles message intake HTTP requests
type MessageHandler struct {
	queueService queue.QueueService
	validator    *validator.Validate
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(queueService queue.QueueService) *MessageHandler {
	return &MessageHandler{
		queueService: queueService,
		validator:    validator.New(),
	}
}

// EnqueueMessage handles POST /api/messages requests
func (h *MessageHandler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req EnqueueMessageRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	msg, err := h.queueService.EnqueueMessage(r.Context(), queue.EnqueueMessageRequest{
		ExternalID:  req.ExternalID,
		Channel:     req.Channel,
		UserID:      req.UserID,
		Content:     req.Content,
		Attachments: req.Attachments,
		Priority:    req.Priority,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to enqueue message", err)
		return
	}

	// 202: the message is stored, processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, messageToResponse(msg))
}

// GetMessage handles GET /api/messages/{id} requests
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid message ID")
		return
	}

	msg, err := h.queueService.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrMessageNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Message not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load message", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, messageToResponse(msg))
}
