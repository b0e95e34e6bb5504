package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

const DefaultLedgerTTL = 48 * time.Hour

// NotificationLedger records which scheduled notifications already went out
// today so overlapping cron runs do not send them twice.
type NotificationLedger struct {
	store *RedisCache
	ttl   time.Duration
}

func NewNotificationLedger(store *RedisCache, ttl time.Duration) *NotificationLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &NotificationLedger{store: store, ttl: ttl}
}

// LedgerKey builds notif:{subject}:{type}:{YYYY-MM-DD}. The subject is a task
// id for per-task notifications and a user id for digests.
func LedgerKey(subject uuid.UUID, notificationType string, day time.Time) string {
	return fmt.Sprintf("notif:%s:%s:%s", subject, notificationType, day.Format("2006-01-02"))
}

// Claim returns true when the caller is the first to claim the key and
// should send.
func (l *NotificationLedger) Claim(ctx context.Context, key string) (bool, error) {
	return l.store.SetNX(ctx, key, l.ttl)
}

// Release gives up a claim so a later run may retry the send.
func (l *NotificationLedger) Release(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}
