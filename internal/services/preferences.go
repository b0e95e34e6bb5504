package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fructosahel/backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// EffectivePreferences are the flags applied to a user's notifications.
// IsDefault marks values derived from defaults rather than a stored row.
type EffectivePreferences struct {
	UserID              uuid.UUID `json:"user_id"`
	Enabled             bool      `json:"enabled"`
	TaskReminders       bool      `json:"task_reminders"`
	UrgentAlerts        bool      `json:"urgent_alerts"`
	DailyDigest         bool      `json:"daily_digest"`
	NewTaskAssigned     bool      `json:"new_task_assigned"`
	TaskOverdue         bool      `json:"task_overdue"`
	ReminderHoursBefore int       `json:"reminder_hours_before"`
	IsDefault           bool      `json:"is_default"`
}

func DefaultPreferences(userID uuid.UUID) EffectivePreferences {
	return EffectivePreferences{
		UserID:              userID,
		Enabled:             true,
		TaskReminders:       true,
		UrgentAlerts:        true,
		DailyDigest:         false,
		NewTaskAssigned:     true,
		TaskOverdue:         true,
		ReminderHoursBefore: models.DefaultReminderHours,
		IsDefault:           true,
	}
}

// Allows reports whether a notification of type t may be sent.
func (p EffectivePreferences) Allows(t models.NotificationType) bool {
	if !p.Enabled {
		return false
	}
	switch t {
	case models.NotificationTaskDueSoon:
		return p.TaskReminders
	case models.NotificationTaskOverdue:
		return p.TaskOverdue
	case models.NotificationNewTaskAssigned:
		return p.NewTaskAssigned
	case models.NotificationUrgentAlert:
		return p.UrgentAlerts
	case models.NotificationDailyDigest:
		return p.DailyDigest
	case models.NotificationTest:
		return true
	}
	return false
}

func fromModel(pref models.NotificationPreference) EffectivePreferences {
	return EffectivePreferences{
		UserID:              pref.UserID,
		Enabled:             pref.Enabled,
		TaskReminders:       pref.TaskReminders,
		UrgentAlerts:        pref.UrgentAlerts,
		DailyDigest:         pref.DailyDigest,
		NewTaskAssigned:     pref.NewTaskAssigned,
		TaskOverdue:         pref.TaskOverdue,
		ReminderHoursBefore: pref.ReminderHoursBefore,
	}
}

// PreferenceInput is a partial update; nil fields keep their current value.
type PreferenceInput struct {
	Enabled             *bool `json:"enabled"`
	TaskReminders       *bool `json:"task_reminders"`
	UrgentAlerts        *bool `json:"urgent_alerts"`
	DailyDigest         *bool `json:"daily_digest"`
	NewTaskAssigned     *bool `json:"new_task_assigned"`
	TaskOverdue         *bool `json:"task_overdue"`
	ReminderHoursBefore *int  `json:"reminder_hours_before" validate:"omitempty,min=1,max=168"`
}

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type PreferenceStore interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (models.NotificationPreference, error)
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
}

type PreferenceService struct {
	store    PreferenceStore
	validate *validator.Validate
}

func NewPreferenceService(store PreferenceStore) *PreferenceService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &PreferenceService{store: store, validate: v}
}

// Resolve returns the stored preferences, or the defaults when the user has
// never saved any.
func (s *PreferenceService) Resolve(ctx context.Context, userID uuid.UUID) (EffectivePreferences, error) {
	pref, err := s.store.FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultPreferences(userID), nil
	}
	if err != nil {
		return EffectivePreferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	return fromModel(pref), nil
}

// Update validates input, merges it over the current effective preferences
// and persists the result, creating the row on first write.
func (s *PreferenceService) Update(ctx context.Context, userID uuid.UUID, input PreferenceInput) (EffectivePreferences, error) {
	if err := s.validateInput(input); err != nil {
		return EffectivePreferences{}, err
	}

	current, err := s.Resolve(ctx, userID)
	if err != nil {
		return EffectivePreferences{}, err
	}

	pref := models.NotificationPreference{
		UserID:              userID,
		Enabled:             pick(input.Enabled, current.Enabled),
		TaskReminders:       pick(input.TaskReminders, current.TaskReminders),
		UrgentAlerts:        pick(input.UrgentAlerts, current.UrgentAlerts),
		DailyDigest:         pick(input.DailyDigest, current.DailyDigest),
		NewTaskAssigned:     pick(input.NewTaskAssigned, current.NewTaskAssigned),
		TaskOverdue:         pick(input.TaskOverdue, current.TaskOverdue),
		ReminderHoursBefore: pick(input.ReminderHoursBefore, current.ReminderHoursBefore),
	}

	if err := s.store.Upsert(ctx, &pref); err != nil {
		return EffectivePreferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}
	return fromModel(pref), nil
}

func (s *PreferenceService) validateInput(input PreferenceInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "min", "max":
			verr.Fields[fe.Field()] = fmt.Sprintf("must be between %d and %d", models.MinReminderHours, models.MaxReminderHours)
		default:
			verr.Fields[fe.Field()] = "is invalid"
		}
	}
	return verr
}

func pick[T any](v *T, fallback T) T {
	if v != nil {
		return *v
	}
	return fallback
}
