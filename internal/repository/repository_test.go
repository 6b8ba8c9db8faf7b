package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	config.SetSystemSetting(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "clientflow_test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(db))
	return db
}

func newTestClock() *core.FakeClock {
	return core.NewFakeClock(testStart)
}
