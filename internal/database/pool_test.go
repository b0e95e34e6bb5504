package database

import (
	"path/filepath"
	"testing"
	"time"

	"fructosahel/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig()

	assert.Equal(t, DriverPostgres, config.Driver)
	assert.Equal(t, 25, config.MaxOpenConns)
	assert.Equal(t, 10, config.MaxIdleConns)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, config.ConnMaxIdleTime)
}

func TestNewDatabasePool_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *PoolConfig
	}{
		{"nil config has no DSN", nil},
		{"empty DSN", &PoolConfig{Driver: DriverSQLite}},
		{"negative limits", &PoolConfig{Driver: DriverSQLite, DSN: ":memory:", MaxOpenConns: -1}},
		{"negative lifetime", &PoolConfig{Driver: DriverSQLite, DSN: ":memory:", ConnMaxLifetime: -time.Minute}},
		{"unknown driver", &PoolConfig{Driver: "oracle", DSN: "oracle://farm"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewDatabasePool(tt.config)
			assert.Error(t, err)
			assert.Nil(t, pool)
		})
	}
}

func TestNilPoolIsSafe(t *testing.T) {
	pool := &DatabasePool{}

	assert.ErrorIs(t, pool.Health(), ErrNoConnection)
	assert.Equal(t, ErrNoConnection.Error(), pool.Stats()["error"])
	assert.NoError(t, pool.Close())
}

func TestNewSQLiteMemory_MigratesSchema(t *testing.T) {
	pool, err := NewSQLiteMemory()
	require.NoError(t, err)
	defer pool.Close()

	for _, table := range []string{"users", "tasks", "notification_preferences", "push_subscriptions"} {
		assert.True(t, pool.DB.Migrator().HasTable(table), "table %s", table)
	}
	assert.NoError(t, pool.Health())
	assert.Equal(t, 1, pool.Stats()["max_open_connections"])
}

func TestNewSQLiteMemory_PoolsAreIsolated(t *testing.T) {
	first, err := NewSQLiteMemory()
	require.NoError(t, err)
	defer first.Close()
	second, err := NewSQLiteMemory()
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.DB.Create(&models.User{Email: "awa@example.com"}).Error)

	var count int64
	require.NoError(t, second.DB.Model(&models.User{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSQLiteFilePersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "fructosahel.db")
	config := &PoolConfig{Driver: DriverSQLite, DSN: dsn, LogLevel: logger.Silent}

	pool, err := NewDatabasePool(config)
	require.NoError(t, err)
	require.NoError(t, Migrate(pool.DB))
	require.NoError(t, pool.DB.Create(&models.User{Email: "moussa@example.com"}).Error)
	require.NoError(t, pool.Close())

	reopened, err := NewDatabasePool(config)
	require.NoError(t, err)
	defer reopened.Close()

	var user models.User
	require.NoError(t, reopened.DB.First(&user, "email = ?", "moussa@example.com").Error)
	assert.Equal(t, models.DefaultLocale, user.Locale)
}
