package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/schedule"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (models.Task, error)
	Save(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter repositories.TaskFilter) ([]models.Task, int64, error)
	DueBetween(ctx context.Context, filter repositories.TaskFilter, from, to time.Time) ([]models.Task, error)
}

// Notifier hands a notification off for delivery without waiting for it.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, notificationType models.NotificationType, data map[string]interface{})
}

type EventTracker interface {
	Track(ctx context.Context, event analytics.Event) error
}

type CreateTaskInput struct {
	Title       string              `json:"title" binding:"required,max=200"`
	Description *string             `json:"description"`
	FarmID      *uuid.UUID          `json:"farm_id"`
	CropID      *uuid.UUID          `json:"crop_id"`
	AssignedTo  *uuid.UUID          `json:"assigned_to"`
	Status      models.TaskStatus   `json:"status"`
	Priority    models.TaskPriority `json:"priority"`
	DueDate     *time.Time          `json:"due_date"`
}

// UpdateTaskInput is a partial update. Unassign and ClearDueDate null the
// corresponding column.
type UpdateTaskInput struct {
	Title        *string              `json:"title" binding:"omitempty,max=200"`
	Description  *string              `json:"description"`
	FarmID       *uuid.UUID           `json:"farm_id"`
	CropID       *uuid.UUID           `json:"crop_id"`
	AssignedTo   *uuid.UUID           `json:"assigned_to"`
	Unassign     bool                 `json:"unassign"`
	Status       *models.TaskStatus   `json:"status"`
	Priority     *models.TaskPriority `json:"priority"`
	DueDate      *time.Time           `json:"due_date"`
	ClearDueDate bool                 `json:"clear_due_date"`
}

type TaskService struct {
	store    TaskStore
	notifier Notifier
	events   EventTracker
	now      func() time.Time
}

func NewTaskService(store TaskStore, notifier Notifier, events EventTracker) *TaskService {
	return &TaskService{store: store, notifier: notifier, events: events, now: time.Now}
}

func (s *TaskService) Create(ctx context.Context, creatorID uuid.UUID, input CreateTaskInput) (models.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return models.Task{}, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if input.Status != "" && !input.Status.Valid() {
		return models.Task{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, input.Status)
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return models.Task{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, input.Priority)
	}

	task := models.Task{
		Title:       title,
		Description: input.Description,
		FarmID:      input.FarmID,
		CropID:      input.CropID,
		AssignedTo:  input.AssignedTo,
		CreatedBy:   creatorID,
		Priority:    input.Priority,
		DueDate:     input.DueDate,
	}
	status := input.Status
	if status == "" {
		status = models.TaskStatusPending
	}
	task.SetStatus(status, s.now())

	if err := s.store.Create(ctx, &task); err != nil {
		return models.Task{}, fmt.Errorf("failed to create task: %w", err)
	}

	s.track(ctx, analytics.EventTaskCreated, creatorID, task)
	if task.AssignedTo != nil && *task.AssignedTo != creatorID {
		s.notifyAssignee(ctx, task)
	}
	return task, nil
}

// Get returns the task when the actor may see it. Tasks the actor cannot
// see are reported as not found.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID, actor Actor) (models.Task, error) {
	return s.visibleTask(ctx, id, actor)
}

func (s *TaskService) visibleTask(ctx context.Context, id uuid.UUID, actor Actor) (models.Task, error) {
	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		return models.Task{}, translateTaskError(err)
	}
	if !actor.CanView(task) {
		return models.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *TaskService) List(ctx context.Context, filter repositories.TaskFilter) ([]models.Task, int64, error) {
	tasks, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// Update applies a partial update. Assignees may edit the task; changing
// the assignee is left to the creator and admins.
func (s *TaskService) Update(ctx context.Context, id uuid.UUID, actor Actor, input UpdateTaskInput) (models.Task, error) {
	task, err := s.visibleTask(ctx, id, actor)
	if err != nil {
		return models.Task{}, err
	}
	if (input.Unassign || input.AssignedTo != nil) && !actor.CanManage(task) {
		return models.Task{}, fmt.Errorf("%w: only the creator can reassign", ErrTaskForbidden)
	}

	previousAssignee := task.AssignedTo

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return models.Task{}, fmt.Errorf("%w: title must not be empty", ErrInvalidTask)
		}
		task.Title = title
	}
	if input.Description != nil {
		task.Description = input.Description
	}
	if input.FarmID != nil {
		task.FarmID = input.FarmID
	}
	if input.CropID != nil {
		task.CropID = input.CropID
	}
	if input.Unassign {
		task.AssignedTo = nil
	} else if input.AssignedTo != nil {
		task.AssignedTo = input.AssignedTo
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			return models.Task{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, *input.Priority)
		}
		task.Priority = *input.Priority
	}
	if input.ClearDueDate {
		task.DueDate = nil
	} else if input.DueDate != nil {
		task.DueDate = input.DueDate
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return models.Task{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *input.Status)
		}
		task.SetStatus(*input.Status, s.now())
	}

	if err := s.store.Save(ctx, &task); err != nil {
		return models.Task{}, fmt.Errorf("failed to update task: %w", err)
	}

	s.track(ctx, analytics.EventTaskUpdated, actor.ID, task)
	if reassigned(previousAssignee, task.AssignedTo) && *task.AssignedTo != actor.ID {
		s.notifyAssignee(ctx, task)
	}
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, id uuid.UUID, actor Actor) error {
	task, err := s.visibleTask(ctx, id, actor)
	if err != nil {
		return err
	}
	if !actor.CanManage(task) {
		return fmt.Errorf("%w: only the creator can delete", ErrTaskForbidden)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return translateTaskError(err)
	}
	s.track(ctx, analytics.EventTaskDeleted, actor.ID, task)
	return nil
}

// Month returns the tasks due in (year, month), with month boundaries taken
// in loc.
func (s *TaskService) Month(ctx context.Context, filter repositories.TaskFilter, month time.Month, year int, loc *time.Location) ([]models.Task, error) {
	from, to := schedule.MonthRange(month, year, loc)
	tasks, err := s.store.DueBetween(ctx, filter, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) notifyAssignee(ctx context.Context, task models.Task) {
	if s.notifier == nil {
		return
	}

	notificationType := models.NotificationNewTaskAssigned
	if task.Priority == models.TaskPriorityUrgent {
		notificationType = models.NotificationUrgentAlert
	}
	s.notifier.Notify(ctx, *task.AssignedTo, notificationType, TaskNotificationData(task))
}

func (s *TaskService) track(ctx context.Context, name string, userID uuid.UUID, task models.Task) {
	if s.events == nil {
		return
	}
	_ = s.events.Track(ctx, analytics.Event{
		Name:   name,
		UserID: userID.String(),
		Properties: map[string]interface{}{
			"task_id":  task.ID.String(),
			"status":   string(task.Status),
			"priority": string(task.Priority),
		},
	})
}

// TaskNotificationData is the data map attached to task notifications.
func TaskNotificationData(task models.Task) map[string]interface{} {
	data := map[string]interface{}{
		"task_id":  task.ID.String(),
		"title":    task.Title,
		"priority": string(task.Priority),
		"url":      "/tasks/" + task.ID.String(),
	}
	if task.DueDate != nil {
		data["due"] = task.DueDate.UTC().Format(time.RFC3339)
	}
	return data
}

func reassigned(before, after *uuid.UUID) bool {
	if after == nil {
		return false
	}
	return before == nil || *before != *after
}

func translateTaskError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTaskNotFound
	}
	return err
}
