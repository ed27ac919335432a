package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aqua-kernel/aqua/internal/app"
	_ "modernc.org/sqlite"
)

// CloseDB runs PRAGMA optimize then closes the connection.
// Use this instead of db.Close() for proper SQLite lifecycle management.
// PRAGMA optimize updates query planner statistics accumulated during the session.
func CloseDB(db *sql.DB) error {
	_, _ = db.ExecContext(context.Background(), "PRAGMA optimize")
	return db.Close()
}

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds
// so concurrent writers serialize rather than fail. Override with
// AQUA_BUSY_TIMEOUT_MS for environments with high contention.
const defaultBusyTimeoutMS = 5000

// InitDB opens the project's store at the conventional path
// (<project>/.aqua/aqua.db) and runs migrations.
func InitDB() (*sql.DB, error) {
	aquaDir, err := app.RequireAquaDir()
	if err != nil {
		return nil, err
	}
	return InitDBWithPath(app.DBPath(aquaDir))
}

// OpenDB opens a database connection and configures SQLite pragmas, but
// does NOT run migrations. Use InitDBWithPath for init/upgrade paths that
// need migrations applied, or pair with CheckSchemaVersion for commands
// that expect an already-current schema.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single-writer CLI tool: one connection avoids internal pool
	// contention fighting the SQLite-level single-writer lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyTimeout := defaultBusyTimeoutMS
	if v := os.Getenv("AQUA_BUSY_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			busyTimeout = parsed
		}
	}

	// Set SQLite pragmas for WAL mode and concurrent access.
	//
	// Trade-offs:
	//   busy_timeout: blocks writers up to N ms instead of failing immediately.
	//   synchronous=NORMAL: skips fsync on every commit (WAL still provides
	//                        crash safety for committed txns).
	//   journal_mode=WAL: concurrent readers + one writer; required for
	//                      multiple agent processes sharing one db file.
	//   foreign_keys=ON: task_dependencies/file_locks/messages reference
	//                     agents/tasks and must not dangle.
	pragmas := []string{
		// busy_timeout first so subsequent pragmas (including WAL) wait on locks.
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := RetryWithBackoff(context.Background(), func() error {
			_, err := db.ExecContext(context.Background(), pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	// The store holds all coordination state in plaintext; owner-only
	// access. WAL sidecars inherit the main file's permissions.
	if !isMemoryDSN(dbPath) {
		plainPath := strings.SplitN(strings.TrimPrefix(dbPath, "file:"), "?", 2)[0]
		if err := os.Chmod(plainPath, 0o600); err != nil && !os.IsNotExist(err) {
			_ = db.Close()
			return nil, fmt.Errorf("restrict db permissions: %w", err)
		}
	}

	return db, nil
}

// CheckSchemaVersion verifies the database schema is up to date, returning
// an error with remediation instructions if migrations are pending.
func CheckSchemaVersion(db *sql.DB) error {
	current, latest, err := SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if current < latest {
		return fmt.Errorf("schema version %d, expected %d: run 'aqua init' to apply migrations", current, latest)
	}
	return nil
}

// InitDBWithPath opens a database and runs migrations. Used by init/tests.
func InitDBWithPath(dbPath string) (*sql.DB, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := MigrateDB(db, dbPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// isMemoryDSN covers both the ":memory:" path form and the
// "?mode=memory" query form.
func isMemoryDSN(dbPath string) bool {
	return strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}

func normalizeSQLiteDSN(dbPath string) string {
	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE, which
	// acquires the writer slot eagerly and avoids upgrade deadlocks.
	//
	// Exception: in-memory DSNs must not get _txlock=immediate; IMMEDIATE
	// locking can deadlock when migrations run nested queries on the same
	// shared-cache connection.
	if strings.HasPrefix(dbPath, "file:") {
		if isMemoryDSN(dbPath) {
			return dbPath
		}
		if strings.Contains(dbPath, "_txlock=") {
			return dbPath
		}
		if strings.Contains(dbPath, "?") {
			return dbPath + "&_txlock=immediate"
		}
		return dbPath + "?_txlock=immediate"
	}

	if dbPath == ":memory:" {
		return "file::memory:?cache=shared"
	}

	// mode=rwc => read/write/create; without this some environments open read-only.
	return "file:" + dbPath + "?mode=rwc&_txlock=immediate"
}
