package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

// newTestDB opens a uniquely named in-memory database per test, so
// parallel subtests sharing the sqlite shared-cache namespace never see
// each other's rows.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := InitDBWithPath(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB(db) })
	return db
}

func mustJoin(t *testing.T, db *sql.DB, name string) *models.Agent {
	t.Helper()
	a, err := JoinAgent(context.Background(), db, name, models.AgentKindGeneric, nil, "", nil, "", "")
	require.NoError(t, err)
	return a
}

func mustAddTask(t *testing.T, db *sql.DB, title, createdBy string) *models.Task {
	t.Helper()
	task, err := AddTask(context.Background(), db, AddTaskInput{Title: title, CreatedBy: createdBy})
	require.NoError(t, err)
	return task
}
