package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the task no longer needs attention.
func (s TaskStatus) Closed() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

type Task struct {
	ID          uuid.UUID    `json:"id" gorm:"primaryKey;type:uuid"`
	Title       string       `json:"title" gorm:"not null"`
	Description *string      `json:"description,omitempty"`
	FarmID      *uuid.UUID   `json:"farm_id,omitempty" gorm:"type:uuid;index"`
	CropID      *uuid.UUID   `json:"crop_id,omitempty" gorm:"type:uuid"`
	AssignedTo  *uuid.UUID   `json:"assigned_to,omitempty" gorm:"type:uuid;index"`
	CreatedBy   uuid.UUID    `json:"created_by" gorm:"type:uuid;not null;index"`
	Status      TaskStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Priority    TaskPriority `json:"priority" gorm:"type:varchar(20);not null;default:'medium'"`
	DueDate     *time.Time   `json:"due_date,omitempty" gorm:"index"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}
	return nil
}

// SetStatus changes the status and keeps CompletedAt in step with it.
func (t *Task) SetStatus(status TaskStatus, now time.Time) {
	t.Status = status
	if status == TaskStatusCompleted {
		if t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
		return
	}
	t.CompletedAt = nil
}

// BeforeSave stores timestamps in UTC so range queries compare consistently
// across drivers.
func (t *Task) BeforeSave(tx *gorm.DB) error {
	if t.DueDate != nil {
		due := t.DueDate.UTC()
		t.DueDate = &due
	}
	if t.CompletedAt != nil {
		completed := t.CompletedAt.UTC()
		t.CompletedAt = &completed
	}
	return nil
}
