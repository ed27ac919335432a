package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// AcquireLock inserts a row keyed by file path. A
// primary-key violation means the lock is already held; the error carries
// the current owner.
func AcquireLock(ctx context.Context, db *sql.DB, path, agentID string) (*models.FileLock, error) {
	var lock *models.FileLock
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		var err error
		lock, err = AcquireLockTx(ctx, tx, path, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// AcquireLockTx is the transaction-scoped half of AcquireLock, reused by
// RunIdempotent callers that must keep the idempotency-key bookkeeping in
// the same transaction as the lock insert.
func AcquireLockTx(ctx context.Context, tx *sql.Tx, path, agentID string) (*models.FileLock, error) {
	lock := &models.FileLock{Path: path, OwnerAgent: agentID, AcquiredAt: time.Now().UTC()}
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO file_locks (path, owner_agent_id, acquired_at) VALUES (?, ?, ?)
	`, path, agentID, formatTime(lock.AcquiredAt))
	if execErr != nil {
		if IsUniqueConstraintErr(execErr) {
			owner, lookupErr := currentLockOwnerTx(ctx, tx, path)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, &LockHeldError{Path: path, CurrentOwner: owner}
		}
		return nil, fmt.Errorf("insert file lock: %w", execErr)
	}
	if err := appendEventTx(ctx, tx, models.EventKindLockAcquired, agentID, "", map[string]any{"path": path}); err != nil {
		return nil, err
	}
	return lock, nil
}

// ReleaseLock deletes the lock row, but only when the caller is the owner.
func ReleaseLock(ctx context.Context, db *sql.DB, path, agentID string) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		owner, err := currentLockOwnerTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if owner != agentID {
			return &LockNotOwnedError{Path: path, RequestedBy: agentID}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE path = ? AND owner_agent_id = ?`, path, agentID); err != nil {
			return fmt.Errorf("delete file lock: %w", err)
		}
		return appendEventTx(ctx, tx, models.EventKindLockReleased, agentID, "", map[string]any{"path": path})
	})
}

func currentLockOwnerTx(ctx context.Context, tx *sql.Tx, path string) (string, error) {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner_agent_id FROM file_locks WHERE path = ?`, path).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{Entity: "file_lock", ID: path}
	}
	if err != nil {
		return "", fmt.Errorf("lookup lock owner: %w", err)
	}
	return owner, nil
}

// releaseAllLocksTx unconditionally releases every lock owned by
// agentID, returning the released paths.
func releaseAllLocksTx(ctx context.Context, tx *sql.Tx, agentID string) ([]string, error) {
	paths, err := queryStringColumn(ctx, tx, `SELECT path FROM file_locks WHERE owner_agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list locks for release: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE owner_agent_id = ?`, agentID); err != nil {
		return nil, fmt.Errorf("release locks: %w", err)
	}
	for _, p := range paths {
		if err := appendEventTx(ctx, tx, models.EventKindLockReleased, agentID, "", map[string]any{"path": p, "reason": "agent left or died"}); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// ListLocks returns every currently held lock.
func ListLocks(ctx context.Context, db *sql.DB) ([]*models.FileLock, error) {
	rows, err := db.QueryContext(ctx, `SELECT path, owner_agent_id, acquired_at FROM file_locks ORDER BY acquired_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.FileLock
	for rows.Next() {
		var l models.FileLock
		var acquiredAt string
		if err := rows.Scan(&l.Path, &l.OwnerAgent, &acquiredAt); err != nil {
			return nil, fmt.Errorf("scan file lock: %w", err)
		}
		if l.AcquiredAt, err = parseTime(acquiredAt); err != nil {
			return nil, fmt.Errorf("parse acquired_at: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
