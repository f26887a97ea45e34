package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mkessel/outrider/internal/api/shared"
	"github.com/mkessel/outrider/internal/domain"
	"github.com/mkessel/outrider/internal/queue"
)

// defaultListLimit bounds unpaginated list responses.
const defaultListLimit = 50

// TaskHandler handles task delegation and chain HTTP requests
type TaskHandler struct {
	queueService queue.QueueService
	validator    *validator.Validate
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(queueService queue.QueueService) *TaskHandler {
	return &TaskHandler{
		queueService: queueService,
		validator:    validator.New(),
	}
}

// DelegateTask handles POST /api/tasks requests
func (h *TaskHandler) DelegateTask(w http.ResponseWriter, r *http.Request) {
	var req DelegateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	task, err := h.queueService.DelegateTask(r.Context(), queue.DelegateTaskRequest{
		Description:   req.Description,
		Context:       req.Context,
		Priority:      req.Priority,
		MaxRetries:    req.MaxRetries,
		DependsOn:     req.DependsOn,
		GroupID:       req.GroupID,
		NotifyChannel: req.NotifyChannel,
	})
	if err != nil {
		if errors.Is(err, queue.ErrUnknownDependency) {
			shared.RespondWithError(w, r, http.StatusUnprocessableEntity,
				"Unknown dependency task")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to delegate task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// CreateChain handles POST /api/chains requests
func (h *TaskHandler) CreateChain(w http.ResponseWriter, r *http.Request) {
	var req CreateChainRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	steps := make([]queue.ChainStep, 0, len(req.Steps))
	for _, step := range req.Steps {
		steps = append(steps, queue.ChainStep{
			Description:   step.Description,
			Context:       step.Context,
			Priority:      step.Priority,
			NotifyChannel: step.NotifyChannel,
			DependsOn:     step.DependsOn,
		})
	}

	tasks, err := h.queueService.CreateTaskChain(r.Context(), queue.CreateChainRequest{Steps: steps})
	if err != nil {
		if errors.Is(err, queue.ErrEmptyChain) || errors.Is(err, queue.ErrInvalidChainStep) {
			shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to create task chain", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, tasksToResponses(tasks))
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	detail, err := h.queueService.GetTaskDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load task", err)
		return
	}

	resp := TaskDetailResponse{
		TaskResponse: taskToResponse(detail.Task),
		Progress:     make([]ProgressResponse, 0, len(detail.Progress)),
	}
	for _, update := range detail.Progress {
		resp.Progress = append(resp.Progress, ProgressResponse{
			Note:      update.Note,
			CreatedAt: update.CreatedAt,
		})
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTaskProgress handles GET /api/tasks/{id}/progress requests
func (h *TaskHandler) GetTaskProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	detail, err := h.queueService.GetTaskDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load task progress", err)
		return
	}

	progress := make([]ProgressResponse, 0, len(detail.Progress))
	for _, update := range detail.Progress {
		progress = append(progress, ProgressResponse{
			Note:      update.Note,
			CreatedAt: update.CreatedAt,
		})
	}

	shared.RespondWithJSON(w, r, http.StatusOK, progress)
}

// ListTasks handles GET /api/tasks requests. Supports optional status and
// limit query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var status *domain.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.TaskStatus(raw)
		if !s.IsValid() {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = &s
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	tasks, err := h.queueService.ListTasks(r.Context(), status, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to list tasks", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponses(tasks))
}

// GetChainStatus handles GET /api/chains/{groupID} requests
func (h *TaskHandler) GetChainStatus(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid group ID")
		return
	}

	cs, err := h.queueService.GetChainStatus(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, queue.ErrChainNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Chain not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load chain status", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, chainStatusToResponse(cs))
}
