package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDBWithPath_CreatesFileAndAppliesPragmas(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "aqua.db")

	db, err := InitDBWithPath(dbPath)
	require.NoError(t, err)
	defer func() { _ = CloseDB(db) }()

	for _, table := range []string{"agents", "leader", "tasks", "task_dependencies", "file_locks", "messages", "events", "idempotency_keys"} {
		var name string
		require.NoError(t, db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name), "table %s was not created", table)
	}

	var journalMode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestSchemaVersion_MatchesAfterMigration(t *testing.T) {
	db := newTestDB(t)

	current, latest, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, latest, current)
	require.Greater(t, latest, int64(0))
}

func TestCheckSchemaVersion_UpToDateAfterInit(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, CheckSchemaVersion(db))
}
