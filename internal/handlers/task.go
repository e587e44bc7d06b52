package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/taskhive/apiserver/internal/auth"
	"github.com/taskhive/apiserver/internal/services"
	"github.com/taskhive/apiserver/internal/store"
	"github.com/taskhive/apiserver/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
	maxTitleLen      = 200
	maxDescLen       = 1000

	maxAttachmentMemory = 8 << 20
	maxAttachmentBytes  = 32 << 20
	formFieldFile       = "file"
)

// TaskHandler provides HTTP handlers for tasks.
type TaskHandler struct {
	taskService *services.TaskService
}

// NewTaskHandler constructs a handler with the provided service.
func NewTaskHandler(taskService *services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// TaskRouter registers task routes on the given router. All routes
// sit behind the auth middleware; no task handler is reachable
// without a verified identity.
func TaskRouter(r chi.Router, taskService *services.TaskService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTaskHandler(taskService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListTasks)
	r.Post("/", handler.CreateTask)
	r.Route("/{taskID}", func(r chi.Router) {
		r.Get("/", handler.GetTask)
		r.Put("/", handler.UpdateTask)
		r.Delete("/", handler.DeleteTask)
		r.Patch("/toggle", handler.ToggleTask)
		r.Post("/attachment", handler.UploadAttachment)
		r.Get("/attachment", handler.DownloadAttachment)
	})
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	offset, limit, err := parseListParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, stats, err := h.taskService.List(r.Context(), callerID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, TaskListResponse{
		Tasks:     tasks,
		Total:     stats.Total,
		Completed: stats.Completed,
		Pending:   stats.Pending,
	})
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	title := strings.TrimSpace(req.Title)
	if err := validateTitle(title); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := validateDescription(req.Description); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	// Ownership comes from the request identity; the payload has no
	// owner field and could not override it if it did.
	task, err := h.taskService.Create(r.Context(), callerID, title, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskService.Get(r.Context(), callerID, taskID)
	if err != nil {
		respondTaskError(w, err, "failed to fetch task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req TaskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	update := services.TaskUpdate{Description: req.Description}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if err := validateTitle(title); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		update.Title = &title
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	task, err := h.taskService.Update(r.Context(), callerID, taskID, update)
	if err != nil {
		respondTaskError(w, err, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskService.Toggle(r.Context(), callerID, taskID)
	if err != nil {
		respondTaskError(w, err, "failed to toggle task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.taskService.Delete(r.Context(), callerID, taskID); err != nil {
		respondTaskError(w, err, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.taskService.AttachmentsEnabled() {
		writeError(w, http.StatusNotImplemented, "attachments are not enabled")
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File[formFieldFile]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}

	fileHeader := files[0]
	if fileHeader.Size > maxAttachmentBytes {
		writeError(w, http.StatusBadRequest, "uploaded file too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	task, err := h.taskService.Attach(r.Context(), callerID, taskID, fileHeader.Filename, contentType, file, fileHeader.Size)
	if err != nil {
		respondTaskError(w, err, "failed to store attachment")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.taskService.AttachmentsEnabled() {
		writeError(w, http.StatusNotImplemented, "attachments are not enabled")
		return
	}

	reader, task, err := h.taskService.OpenAttachment(r.Context(), callerID, taskID)
	if err != nil {
		respondTaskError(w, err, "failed to fetch attachment")
		return
	}
	defer reader.Close()

	if task.AttachmentType != "" {
		w.Header().Set("Content-Type", task.AttachmentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.AttachmentName))
	_, _ = io.Copy(w, reader)
}

// TaskCreateRequest is the JSON payload for task creation. There is
// deliberately no owner field.
type TaskCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TaskUpdateRequest carries optional field updates.
type TaskUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// TaskListResponse is the list payload with owner-scoped statistics.
type TaskListResponse struct {
	Tasks     []types.Task `json:"tasks"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Pending   int          `json:"pending"`
}

// respondTaskError maps service errors onto the response taxonomy:
// unknown id is 404, authenticated-but-not-owner is 403.
func respondTaskError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not have permission to access this task")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func parseTaskID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "taskID")
	if err := uuid.Validate(id); err != nil {
		return "", errors.New("invalid task id")
	}
	return id, nil
}

func parseListParams(r *http.Request) (offset, limit int, err error) {
	limit = defaultListLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("invalid limit")
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("invalid offset")
		}
	}

	return offset, limit, nil
}

func validateTitle(title string) error {
	if title == "" {
		return errors.New("title is required")
	}
	if len(title) > maxTitleLen {
		return errors.New("title must be 200 characters or less")
	}
	return nil
}

func validateDescription(description string) error {
	if len(description) > maxDescLen {
		return errors.New("description must be 1000 characters or less")
	}
	return nil
}
