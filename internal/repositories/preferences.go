package repositories

import (
	"context"
	"fmt"

	"fructosahel/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Preference flag columns that can gate a batch job.
const (
	FlagTaskReminders   = "task_reminders"
	FlagUrgentAlerts    = "urgent_alerts"
	FlagDailyDigest     = "daily_digest"
	FlagNewTaskAssigned = "new_task_assigned"
	FlagTaskOverdue     = "task_overdue"
)

var preferenceFlags = map[string]bool{
	FlagTaskReminders:   true,
	FlagUrgentAlerts:    true,
	FlagDailyDigest:     true,
	FlagNewTaskAssigned: true,
	FlagTaskOverdue:     true,
}

type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// FindByUser returns gorm.ErrRecordNotFound when the user never saved preferences.
func (r *PreferenceRepository) FindByUser(ctx context.Context, userID uuid.UUID) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := r.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	return pref, err
}

// Upsert inserts the row or overwrites every flag of the existing row for the same user.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", FlagTaskReminders, FlagUrgentAlerts, FlagDailyDigest,
			FlagNewTaskAssigned, FlagTaskOverdue, "reminder_hours_before", "updated_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return err
	}
	// the conflict path keeps the original id; reload so callers see it
	stored, err := r.FindByUser(ctx, pref.UserID)
	if err != nil {
		return err
	}
	*pref = stored
	return nil
}

// ListEnabled returns preference rows with the master switch and the given flag on.
func (r *PreferenceRepository) ListEnabled(ctx context.Context, flag string) ([]models.NotificationPreference, error) {
	if !preferenceFlags[flag] {
		return nil, fmt.Errorf("unknown preference flag %q", flag)
	}

	var prefs []models.NotificationPreference
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where(clause.Eq{Column: clause.Column{Name: flag}, Value: true}).
		Find(&prefs).Error
	return prefs, err
}
