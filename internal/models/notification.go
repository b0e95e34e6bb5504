package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationTaskDueSoon     NotificationType = "task_due_soon"
	NotificationTaskOverdue     NotificationType = "task_overdue"
	NotificationNewTaskAssigned NotificationType = "new_task_assigned"
	NotificationUrgentAlert     NotificationType = "urgent_alert"
	NotificationDailyDigest     NotificationType = "daily_digest"
	NotificationTest            NotificationType = "test"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTaskDueSoon, NotificationTaskOverdue, NotificationNewTaskAssigned,
		NotificationUrgentAlert, NotificationDailyDigest, NotificationTest:
		return true
	}
	return false
}

const (
	MinReminderHours     = 1
	MaxReminderHours     = 168
	DefaultReminderHours = 24
)

type NotificationPreference struct {
	ID                  uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID              uuid.UUID `json:"user_id" gorm:"type:uuid;uniqueIndex;not null"`
	Enabled             bool      `json:"enabled" gorm:"not null"`
	TaskReminders       bool      `json:"task_reminders" gorm:"not null"`
	UrgentAlerts        bool      `json:"urgent_alerts" gorm:"not null"`
	DailyDigest         bool      `json:"daily_digest" gorm:"not null"`
	NewTaskAssigned     bool      `json:"new_task_assigned" gorm:"not null"`
	TaskOverdue         bool      `json:"task_overdue" gorm:"not null"`
	ReminderHoursBefore int       `json:"reminder_hours_before" gorm:"not null;default:24"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (p *NotificationPreference) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		p.ID = id
	}
	return nil
}

type PushSubscription struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Endpoint  string    `json:"endpoint" gorm:"uniqueIndex;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null"`
	P256dh    string    `json:"p256dh" gorm:"not null"`
	Auth      string    `json:"auth" gorm:"not null"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		s.ID = id
	}
	return nil
}

// NotificationPayload is the JSON document delivered to every device.
type NotificationPayload struct {
	Type  NotificationType       `json:"type"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}
