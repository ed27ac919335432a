package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// SerializeCheckpoints threads the pending queue into a linear chain:
// given the current pending task set, compute a topological order
// respecting dependencies, then thread the chain with synthetic
// checkpoint tasks (is_checkpoint=true) between consecutive work tasks
// (or every stride-th task if stride > 1) so an external loop can
// observe an agent exiting between two tasks and relaunch a fresh agent
// with restored context. Deterministic for a given input ordering; a
// no-op on empty queues.
func SerializeCheckpoints(ctx context.Context, db *sql.DB, createdBy string, stride int) ([]string, error) {
	if stride <= 0 {
		stride = 1
	}

	var inserted []string
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		work, err := topoOrderPendingWorkTx(ctx, tx)
		if err != nil {
			return err
		}
		if len(work) == 0 {
			return nil
		}

		var prevID string
		for i, taskID := range work {
			if i > 0 {
				if (i % stride) == 0 {
					exists, err := checkpointLinksTx(ctx, tx, prevID, taskID)
					if err != nil {
						return err
					}
					if !exists {
						cpID, err := insertCheckpointTx(ctx, tx, createdBy, prevID, taskID)
						if err != nil {
							return err
						}
						inserted = append(inserted, cpID)
					}
				} else if err := ensureDependencyTx(ctx, tx, taskID, prevID); err != nil {
					// Boundaries without a checkpoint still need a direct
					// edge, or the chain is not linear and the claim order
					// diverges from the serialized one.
					return err
				}
			}
			prevID = taskID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// checkpointLinksTx reports whether a checkpoint task already sits between
// afterID and beforeID in the chain (afterID -> checkpoint -> beforeID),
// so a second call with the same stride is a no-op.
func checkpointLinksTx(ctx context.Context, tx *sql.Tx, afterID, beforeID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM task_dependencies after_edge
		JOIN tasks cp ON cp.id = after_edge.task_id AND cp.is_checkpoint = 1
		JOIN task_dependencies before_edge ON before_edge.depends_on_task_id = cp.id
		WHERE after_edge.depends_on_task_id = ? AND before_edge.task_id = ?
	`, afterID, beforeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check existing checkpoint link: %w", err)
	}
	return count > 0, nil
}

// ensureDependencyTx adds "taskID depends on parentID" unless the edge
// already exists, keeping repeated serialize calls from re-logging
// dependency events for edges they already created.
func ensureDependencyTx(ctx context.Context, tx *sql.Tx, taskID, parentID string) error {
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?
	`, taskID, parentID).Scan(&count); err != nil {
		return fmt.Errorf("check existing dependency: %w", err)
	}
	if count > 0 {
		return nil
	}
	return addTaskDependencyTx(ctx, tx, taskID, parentID)
}

// topoOrderPendingWorkTx returns pending, non-checkpoint tasks in a
// deterministic topological order: Kahn's algorithm over the depends_on
// edges restricted to the pending set, breaking ties by (priority desc,
// created_at asc), the same ordering the claim candidate query uses, so
// the chain matches the order tasks would actually be claimed in.
// Existing checkpoint tasks participate in the graph traversal (so
// ordering still respects edges routed through them) but are filtered
// out of the returned sequence, which lists only the work items that
// SerializeCheckpoints threads new checkpoints between.
func topoOrderPendingWorkTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, is_checkpoint FROM tasks WHERE status = 'pending' ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ordered []string
	seen := map[string]bool{}
	isCheckpoint := map[string]bool{}
	for rows.Next() {
		var id string
		var cp int
		if err := rows.Scan(&id, &cp); err != nil {
			return nil, fmt.Errorf("scan pending task id: %w", err)
		}
		ordered = append(ordered, id)
		seen[id] = true
		isCheckpoint[id] = cp != 0
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(ordered))
	children := make(map[string][]string, len(ordered))
	for _, id := range ordered {
		indegree[id] = 0
	}
	for _, id := range ordered {
		parents, err := queryStringColumn(ctx, tx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ?`, id)
		if err != nil {
			return nil, fmt.Errorf("load dependencies for %s: %w", id, err)
		}
		for _, p := range parents {
			if !seen[p] {
				continue // parent already done/claimed; not part of the pending graph
			}
			indegree[id]++
			children[p] = append(children[p], id)
		}
	}

	// Kahn's algorithm, but at each step re-selecting the highest-priority
	// available node, not FIFO over discovery order, so the chain
	// matches the exact sequence ClaimTask would hand tasks out in: a
	// task only freed up late (because its parent just "finished") can
	// still outrank a same-or-lower-priority task that was available the
	// whole time, provided it now has equal-or-higher priority. `ordered`
	// is already sorted (priority desc, created_at asc), so scanning it
	// for the first not-yet-emitted, zero-indegree id each round
	// reproduces that order deterministically.
	emitted := make(map[string]bool, len(ordered))
	var result []string
	for len(emitted) < len(ordered) {
		picked := ""
		for _, id := range ordered {
			if emitted[id] {
				continue
			}
			if indegree[id] == 0 {
				picked = id
				break
			}
		}
		if picked == "" {
			break // residual cycle or inconsistent state; stop rather than loop forever
		}
		emitted[picked] = true
		if !isCheckpoint[picked] {
			result = append(result, picked)
		}
		for _, c := range children[picked] {
			indegree[c]--
		}
	}
	return result, nil
}

// insertCheckpointTx inserts a synthetic checkpoint task depending on
// afterID and depended on by beforeID, splicing it into the chain between
// the two work tasks.
func insertCheckpointTx(ctx context.Context, tx *sql.Tx, createdBy, afterID, beforeID string) (string, error) {
	cpID := NewID()
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, created_by, created_at, updated_at, retry_count, max_retries, tags, context, version, is_checkpoint)
		VALUES (?, 'checkpoint', '', 'pending', 5, ?, ?, ?, 0, 3, '[]', '{}', 1, 1)
	`, cpID, nullableStr(createdBy), formatTime(now), formatTime(now))
	if err != nil {
		return "", fmt.Errorf("insert checkpoint task: %w", err)
	}

	if err := addTaskDependencyTx(ctx, tx, cpID, afterID); err != nil {
		return "", fmt.Errorf("link checkpoint after %s: %w", afterID, err)
	}
	if err := addTaskDependencyTx(ctx, tx, beforeID, cpID); err != nil {
		return "", fmt.Errorf("link checkpoint before %s: %w", beforeID, err)
	}

	if err := appendEventTx(ctx, tx, models.EventKindTaskSerialized, createdBy, cpID, map[string]any{"after": afterID, "before": beforeID}); err != nil {
		return "", err
	}
	return cpID, nil
}
