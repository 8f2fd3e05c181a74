package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
)

func TestBuildSQLiteDSN(t *testing.T) {
	dsn := buildSQLiteDSN(&config.DatabaseConfig{
		Path:            "/tmp/offsync.db",
		BusyTimeout:     5000,
		JournalMode:     "WAL",
		SynchronousMode: "NORMAL",
		ForeignKeys:     true,
	})

	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/offsync.db?"))
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_foreign_keys=true")

	assert.Equal(t, ":memory:", buildSQLiteDSN(&config.DatabaseConfig{Path: ":memory:"}))
}

func TestMigrateCreatesSchema(t *testing.T) {
	loggy.NewNoopLogger()

	conn, err := Open(&config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 1000})
	require.NoError(t, err)
	defer conn.Close()

	applied, err := Migrate(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	for _, table := range []string{"settings", "pending_actions", "sync_times", "sync_warnings", "sync_logs", "cron_executions"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}

	applied, err = Migrate(conn)
	require.NoError(t, err)
	assert.Zero(t, applied, "second run is a no-op")
}

func TestWithTransactionRollsBack(t *testing.T) {
	loggy.NewNoopLogger()

	conn, err := Open(&config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "tx.db"), BusyTimeout: 1000})
	require.NoError(t, err)
	defer conn.Close()

	_, err = Migrate(conn)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(context.Background(), conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO cron_executions (job_name, executed_at) VALUES ('a', CURRENT_TIMESTAMP)")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM cron_executions").Scan(&count))
	assert.Zero(t, count)
}
