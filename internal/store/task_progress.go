package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// ProgressTask updates context and bumps version; rejects if the caller
// is not the claimer. When expectedVersion > 0 the update is an
// optimistic-concurrency CAS guarded by `AND version = ?`, and a
// mismatch returns VersionConflictError: the caller read a version,
// another writer moved past it, the caller must reload and retry.
// expectedVersion 0 skips the version guard (ownership check only).
func ProgressTask(ctx context.Context, db *sql.DB, agentID, taskID, contextJSON string, expectedVersion int) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		if err := requireOwnerTx(ctx, tx, taskID, agentID); err != nil {
			return err
		}
		query := `
			UPDATE tasks SET context = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND claimed_by = ?`
		args := []any{contextJSON, formatTime(time.Now().UTC()), taskID, agentID}
		if expectedVersion > 0 {
			query += ` AND version = ?`
			args = append(args, expectedVersion)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update task progress: %w", err)
		}
		if ra, _ := res.RowsAffected(); ra == 0 {
			if expectedVersion > 0 {
				return &VersionConflictError{Entity: "task", ID: taskID, Version: expectedVersion}
			}
			return &RaceLostError{Operation: "progress", ID: taskID}
		}
		return appendEventTx(ctx, tx, models.EventKindTaskProgress, agentID, taskID, nil)
	})
}

// DoneTask sets status=done, completed_at=now, result=summary, and clears
// the agent's current_task_id. If the completed task
// is a checkpoint, no further action; it is a DAG node like any other.
func DoneTask(ctx context.Context, db *sql.DB, agentID, taskID, result string) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		return DoneTaskTx(ctx, tx, agentID, taskID, result)
	})
}

// DoneTaskTx is the transaction-scoped half of DoneTask, reused by
// RunIdempotent callers.
func DoneTaskTx(ctx context.Context, tx *sql.Tx, agentID, taskID, result string) error {
	if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if err := requireOwnerTx(ctx, tx, taskID, agentID); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'done', completed_at = ?, result = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND status = 'claimed'
	`, formatTime(now), result, formatTime(now), taskID, agentID)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return &RaceLostError{Operation: "done", ID: taskID}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET current_task_id = NULL WHERE id = ? AND current_task_id = ?`, agentID, taskID); err != nil {
		return fmt.Errorf("clear agent current_task_id: %w", err)
	}
	return appendEventTx(ctx, tx, models.EventKindTaskDone, agentID, taskID, map[string]any{"result": result})
}

// FailTask sets status=failed and records the error reason. The recovery
// sweep requeues only abandoned tasks, so a failed task stays failed.
func FailTask(ctx context.Context, db *sql.DB, agentID, taskID, reason string) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		return FailTaskTx(ctx, tx, agentID, taskID, reason)
	})
}

// FailTaskTx is the transaction-scoped half of FailTask, reused by
// RunIdempotent callers.
func FailTaskTx(ctx context.Context, tx *sql.Tx, agentID, taskID, reason string) error {
	if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if err := requireOwnerTx(ctx, tx, taskID, agentID); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND status = 'claimed'
	`, reason, formatTime(now), taskID, agentID)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return &RaceLostError{Operation: "fail", ID: taskID}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET current_task_id = NULL WHERE id = ? AND current_task_id = ?`, agentID, taskID); err != nil {
		return fmt.Errorf("clear agent current_task_id: %w", err)
	}
	return appendEventTx(ctx, tx, models.EventKindTaskFailed, agentID, taskID, map[string]any{"error": reason})
}

func requireOwnerTx(ctx context.Context, tx *sql.Tx, taskID, agentID string) error {
	var claimedBy sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT claimed_by FROM tasks WHERE id = ?`, taskID).Scan(&claimedBy)
	if err == sql.ErrNoRows {
		return &NotFoundError{Entity: "task", ID: taskID}
	}
	if err != nil {
		return fmt.Errorf("check task owner: %w", err)
	}
	if !claimedBy.Valid || claimedBy.String != agentID {
		return &LockNotOwnedError{Path: taskID, RequestedBy: agentID}
	}
	return nil
}

// abandonAgentClaimsTx is shared by leave and the dead-agent sweep:
// every task claimed by agentID moves to abandoned,
// claimed_by is cleared, retry_count increments, and error is recorded.
// The agent row itself is not touched here; callers (leave, recovery
// sweep) handle that separately.
func abandonAgentClaimsTx(ctx context.Context, tx *sql.Tx, agentID, reason string) error {
	taskIDs, err := queryStringColumn(ctx, tx, `SELECT id FROM tasks WHERE claimed_by = ? AND status = 'claimed'`, agentID)
	if err != nil {
		return fmt.Errorf("list claimed tasks: %w", err)
	}
	for _, taskID := range taskIDs {
		if err := abandonTaskTx(ctx, tx, taskID, reason); err != nil {
			return err
		}
	}
	return nil
}

// abandonTaskTx moves one claimed task to abandoned state, without
// touching the owning agent's row.
func abandonTaskTx(ctx context.Context, tx *sql.Tx, taskID, reason string) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'abandoned', claimed_by = NULL, retry_count = retry_count + 1, error = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'claimed'
	`, reason, formatTime(now), taskID)
	if err != nil {
		return fmt.Errorf("abandon task: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return nil // already transitioned by a racing sweep; nothing to do
	}
	return appendEventTx(ctx, tx, models.EventKindTaskAbandoned, "", taskID, map[string]any{"reason": reason})
}

// requeueRetryableAbandonedTx moves abandoned tasks with retry_count <
// max_retries back to pending.
func requeueRetryableAbandonedTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	ids, err := queryStringColumn(ctx, tx, `
		SELECT id FROM tasks WHERE status = 'abandoned' AND retry_count < max_retries
	`)
	if err != nil {
		return nil, fmt.Errorf("list retryable abandoned tasks: %w", err)
	}
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'pending', version = version + 1, updated_at = ?
			WHERE id = ? AND status = 'abandoned'
		`, formatTime(time.Now().UTC()), id)
		if err != nil {
			return nil, fmt.Errorf("requeue abandoned task %s: %w", id, err)
		}
		if ra, _ := res.RowsAffected(); ra > 0 {
			if err := appendEventTx(ctx, tx, models.EventKindTaskReclaimed, "", id, nil); err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

// reclaimStuckClaimsTx treats any claimed task whose claimed_at is older
// than claimTimeout as stuck, abandoning it the same way a dead agent's
// claim would be, without marking the owning agent dead; only that
// agent's current_task_id is cleared.
func reclaimStuckClaimsTx(ctx context.Context, tx *sql.Tx, claimTimeout time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-claimTimeout)
	ids, err := queryStringColumn(ctx, tx, `
		SELECT id FROM tasks WHERE status = 'claimed' AND claimed_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stuck claims: %w", err)
	}
	for _, id := range ids {
		if err := abandonTaskTx(ctx, tx, id, "stuck claim reclaimed by recovery sweep"); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET current_task_id = NULL WHERE current_task_id = ?`, id); err != nil {
			return nil, fmt.Errorf("clear claimer current_task_id for stuck task %s: %w", id, err)
		}
	}
	return ids, nil
}
