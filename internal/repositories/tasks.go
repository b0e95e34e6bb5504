package repositories

import (
	"context"
	"time"

	"fructosahel/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type TaskFilter struct {
	Status     models.TaskStatus
	Priority   models.TaskPriority
	AssignedTo *uuid.UUID
	FarmID     *uuid.UUID
	// Involving matches tasks the user created or is assigned to.
	Involving *uuid.UUID
	DueFrom   *time.Time
	DueTo     *time.Time
	Page      int
	PageSize  int
}

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	return task, err
}

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.Task{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	var tasks []models.Task
	err := query.
		Order("due_date IS NULL, due_date ASC, created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error
	return tasks, total, err
}

// DueBetween returns every task matching the filter with a due date in
// [from, to), unpaginated.
func (r *TaskRepository) DueBetween(ctx context.Context, filter TaskFilter, from, to time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.applyFilter(r.db.WithContext(ctx), filter).
		Where("due_date >= ? AND due_date < ?", from.UTC(), to.UTC()).
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, err
}

// PendingAssignedDueBetween returns the user's pending tasks due in [from, to).
func (r *TaskRepository) PendingAssignedDueBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("assigned_to = ? AND status = ?", userID, models.TaskStatusPending).
		Where("due_date >= ? AND due_date < ?", from.UTC(), to.UTC()).
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, err
}

// PendingAssigneesDueBetween returns the distinct assignees of pending tasks
// due in [from, to).
func (r *TaskRepository) PendingAssigneesDueBetween(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Distinct("assigned_to").
		Where("status = ? AND assigned_to IS NOT NULL", models.TaskStatusPending).
		Where("due_date >= ? AND due_date < ?", from.UTC(), to.UTC()).
		Pluck("assigned_to", &ids).Error
	return ids, err
}

// PendingOverdue returns assigned pending tasks whose due date is before now.
func (r *TaskRepository) PendingOverdue(ctx context.Context, now time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND assigned_to IS NOT NULL", models.TaskStatusPending).
		Where("due_date IS NOT NULL AND due_date < ?", now.UTC()).
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) CountAssignedDueBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("assigned_to = ?", userID).
		Where("due_date >= ? AND due_date < ?", from.UTC(), to.UTC()).
		Count(&count).Error
	return count, err
}

func (r *TaskRepository) applyFilter(query *gorm.DB, filter TaskFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.AssignedTo != nil {
		query = query.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if filter.FarmID != nil {
		query = query.Where("farm_id = ?", *filter.FarmID)
	}
	if filter.Involving != nil {
		query = query.Where("(assigned_to = ? OR created_by = ?)", *filter.Involving, *filter.Involving)
	}
	if filter.DueFrom != nil {
		query = query.Where("due_date >= ?", filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		query = query.Where("due_date < ?", filter.DueTo.UTC())
	}
	return query
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
