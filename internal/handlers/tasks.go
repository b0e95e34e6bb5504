package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskService interface {
	Create(ctx context.Context, creatorID uuid.UUID, input services.CreateTaskInput) (models.Task, error)
	Get(ctx context.Context, id uuid.UUID, actor services.Actor) (models.Task, error)
	List(ctx context.Context, filter repositories.TaskFilter) ([]models.Task, int64, error)
	Update(ctx context.Context, id uuid.UUID, actor services.Actor, input services.UpdateTaskInput) (models.Task, error)
	Delete(ctx context.Context, id uuid.UUID, actor services.Actor) error
}

type TaskHandler struct {
	taskService TaskService
}

func NewTaskHandler(taskService TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.CreateTaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidRequest(c, err)
		return
	}

	task, err := h.taskService.Create(c.Request.Context(), userID, input)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	task, err := h.taskService.Get(c.Request.Context(), id, actor)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTasks lists the caller's tasks (created or assigned); scope=all lifts
// that restriction for admins.
func (h *TaskHandler) GetTasks(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if !scopeAllowed(c, actor) {
		return
	}

	filter, err := parseTaskFilter(c, actor.ID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_filter", "Invalid query parameters", err.Error())
		return
	}

	tasks, total, err := h.taskService.List(c.Request.Context(), filter)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":    tasks,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var input services.UpdateTaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidRequest(c, err)
		return
	}

	task, err := h.taskService.Update(c.Request.Context(), id, actor, input)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.taskService.Delete(c.Request.Context(), id, actor); err != nil {
		handleTaskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// scopeAllowed rejects scope=all from non-admins.
func scopeAllowed(c *gin.Context, actor services.Actor) bool {
	if c.Query("scope") == "all" && !actor.IsAdmin() {
		forbidden(c, "scope=all requires the admin role")
		return false
	}
	return true
}

func parseTaskFilter(c *gin.Context, userID uuid.UUID) (repositories.TaskFilter, error) {
	filter := repositories.TaskFilter{
		Status:   models.TaskStatus(c.Query("status")),
		Priority: models.TaskPriority(c.Query("priority")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, fmt.Errorf("unknown status %q", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return filter, fmt.Errorf("unknown priority %q", filter.Priority)
	}

	if c.Query("scope") != "all" {
		filter.Involving = &userID
	}

	var err error
	if filter.AssignedTo, err = optionalUUID(c, "assigned_to"); err != nil {
		return filter, err
	}
	if filter.FarmID, err = optionalUUID(c, "farm_id"); err != nil {
		return filter, err
	}
	if filter.DueFrom, err = optionalTime(c, "due_from"); err != nil {
		return filter, err
	}
	if filter.DueTo, err = optionalTime(c, "due_to"); err != nil {
		return filter, err
	}

	if filter.Page, err = strconv.Atoi(c.DefaultQuery("page", "1")); err != nil {
		return filter, fmt.Errorf("page must be a number")
	}
	if filter.PageSize, err = strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(repositories.DefaultPageSize))); err != nil {
		return filter, fmt.Errorf("pageSize must be a number")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > repositories.MaxPageSize {
		filter.PageSize = repositories.DefaultPageSize
	}
	return filter, nil
}

func optionalUUID(c *gin.Context, key string) (*uuid.UUID, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a UUID", key)
	}
	return &id, nil
}

// optionalTime accepts RFC 3339 timestamps or plain dates (read as UTC
// midnight).
func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 time or YYYY-MM-DD date", key)
	}
	return &t, nil
}

func handleTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, "task_not_found", "Task not found", nil)
	case errors.Is(err, services.ErrTaskForbidden):
		forbidden(c, err.Error())
	case errors.Is(err, services.ErrInvalidTask):
		respondError(c, http.StatusBadRequest, "invalid_task", err.Error(), nil)
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to process task request", nil)
	}
}
