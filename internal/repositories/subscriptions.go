package repositories

import (
	"context"

	"fructosahel/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, err
}

// Upsert registers a device. An endpoint already known is moved to the
// caller with fresh keys.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "user_agent"}),
	}).Create(sub).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).First(sub, "endpoint = ?", sub.Endpoint).Error
}

// DeleteByEndpoint removes the subscription. Deleting a missing endpoint is
// not an error; the bool reports whether a row went away.
func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	result := r.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&models.PushSubscription{})
	return result.RowsAffected > 0, result.Error
}

func (r *SubscriptionRepository) DeleteForUser(ctx context.Context, userID uuid.UUID, endpoint string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&models.PushSubscription{})
	return result.RowsAffected > 0, result.Error
}
