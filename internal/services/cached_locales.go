package services

import (
	"context"
	"time"

	"fructosahel/backend/internal/cache"

	"github.com/gofrs/uuid"
)

type LocaleStore interface {
	Locale(ctx context.Context, userID uuid.UUID) (string, error)
}

// CachedLocales resolves a user's locale through the two-level cache so bulk
// jobs do not hit the users table once per notification.
type CachedLocales struct {
	store LocaleStore
	cache *cache.MultiLevelCache
	ttl   time.Duration
}

func NewCachedLocales(store LocaleStore, c *cache.MultiLevelCache, ttl time.Duration) *CachedLocales {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedLocales{store: store, cache: c, ttl: ttl}
}

func localeKey(userID uuid.UUID) string {
	return "user_locale:" + userID.String()
}

func (l *CachedLocales) Locale(ctx context.Context, userID uuid.UUID) (string, error) {
	var locale string
	if err := l.cache.Get(ctx, localeKey(userID), &locale); err == nil {
		return locale, nil
	}

	locale, err := l.store.Locale(ctx, userID)
	if err != nil {
		return "", err
	}
	// a failed write only costs a later lookup
	_ = l.cache.Set(ctx, localeKey(userID), locale, l.ttl)
	return locale, nil
}

// Forget drops a cached locale after the user changes it.
func (l *CachedLocales) Forget(ctx context.Context, userID uuid.UUID) error {
	return l.cache.Delete(ctx, localeKey(userID))
}
