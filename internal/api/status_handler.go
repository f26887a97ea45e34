package api

import (
	"net/http"

	"github.com/mkessel/outrider/internal/api/shared"
	"github.com/mkessel/outrider/internal/queue"
)

// StatusHandler serves aggregate queue state
type StatusHandler struct {
	queueService queue.QueueService
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(queueService queue.QueueService) *StatusHandler {
	return &StatusHandler{queueService: queueService}
}

// GetQueueStatus handles GET /api/status requests
func (h *StatusHandler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queueService.GetQueueStatus(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load queue status", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, queueStatusToResponse(status))
}
