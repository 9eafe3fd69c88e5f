package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/config"
)

func TestFromSettings(t *testing.T) {
	c := FromSettings(config.DatabaseConfig{Enabled: true, DSN: "postgres://x", MaxOpenConns: 20, QueryTimeoutMS: 250})

	assert.True(t, c.Enabled)
	assert.Equal(t, 20, c.MaxOpenConns)
	assert.Equal(t, 5, c.MaxIdleConns)
	assert.Equal(t, 250*time.Millisecond, c.QueryTimeout)
	assert.False(t, DefaultConfig().Enabled)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Migrate(context.Background()))
	assert.NoError(t, manager.Close())

	health := manager.Health()
	check := health.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "disabled")
	assert.NoError(t, health.Ping(context.Background()))
	assert.Equal(t, "disabled", health.Stats(context.Background())["status"])
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(Config{Enabled: true})
	assert.ErrorContains(t, err, "DSN is required")
}

func TestManagerMigrateAndHealth(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), DefaultConfig())
	require.True(t, manager.IsEnabled())
	require.NotNil(t, manager.Repository().Reports)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS eligibility_reports").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, manager.Migrate(context.Background()))

	mock.ExpectPing()
	check := manager.Health().Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Errors)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	check = manager.Health().Health(context.Background())
	assert.False(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "ping failed")

	stats := manager.Health().Stats(context.Background())
	assert.True(t, stats["enabled"].(bool))
	assert.Contains(t, stats, "open_connections")

	assert.NoError(t, mock.ExpectationsWereMet())
}
