package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// claimCandidateQuery selects the row with highest priority then oldest
// created_at whose status=pending AND every parent dependency is done AND
// no other parent is still pending/claimed. Expressed as one anti-join
// against unsatisfied parents so cost stays O(log n).
const claimCandidateQuery = `
	SELECT id FROM tasks t
	WHERE t.status = 'pending'
	  AND NOT EXISTS (
	      SELECT 1 FROM task_dependencies td
	      JOIN tasks dep ON dep.id = td.depends_on_task_id
	      WHERE td.task_id = t.id AND dep.status != 'done'
	  )
	  %s
	ORDER BY t.priority DESC, t.created_at ASC
	LIMIT 1`

// ClaimTask performs an atomic claim in one transaction:
// select a candidate, then a conditional UPDATE that sets
// tasks.status=claimed and an UPDATE that sets
// agents.current_task_id=candidate, both in the same transaction so the
// assignment is never half-written. If the agent has a
// role, candidate selection first restricts to tasks tagged with that role
// or a known synonym, falling back to any claimable task if no match
// exists. taskID may be given to claim a specific task instead of letting
// the scheduler pick.
func ClaimTask(ctx context.Context, db *sql.DB, agentID string, taskID string) (*models.Task, error) {
	var claimed *models.Task
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		var err error
		claimed, err = ClaimTaskTx(ctx, tx, agentID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimTaskTx is the transaction-scoped half of ClaimTask, reused by
// RunIdempotent callers.
func ClaimTaskTx(ctx context.Context, tx *sql.Tx, agentID, taskID string) (*models.Task, error) {
	if err := HeartbeatAgentTx(ctx, tx, agentID); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	agent, err := getAgentTx(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.CurrentTaskID != "" {
		return nil, fmt.Errorf("agent %s already holds task %s", agentID, agent.CurrentTaskID)
	}

	leader, err := loadLeaderTxOrZero(ctx, tx)
	if err != nil {
		return nil, err
	}

	candidateID := taskID
	if candidateID == "" {
		candidateID, err = selectClaimCandidateTx(ctx, tx, agent.Role)
		if err != nil {
			return nil, err
		}
		if candidateID == "" {
			return nil, &NoTaskError{}
		}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'claimed', claimed_by = ?, claimed_at = ?, claim_term = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, agentID, formatTime(now), leader, formatTime(now), candidateID)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return nil, &RaceLostError{Operation: "claim", ID: candidateID}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE agents SET current_task_id = ? WHERE id = ?`, candidateID, agentID); err != nil {
		return nil, fmt.Errorf("set agent current_task_id: %w", err)
	}

	claimed, err := getTaskTx(ctx, tx, candidateID)
	if err != nil {
		return nil, err
	}
	if err := appendEventTx(ctx, tx, models.EventKindTaskClaimed, agentID, candidateID, map[string]any{"claim_term": leader}); err != nil {
		return nil, err
	}
	return claimed, nil
}

// selectClaimCandidateTx runs the anti-join claim query, restricted to the
// agent's role tag set (and its synonyms) first, falling back to any
// claimable task if nothing matches.
func selectClaimCandidateTx(ctx context.Context, tx *sql.Tx, role string) (string, error) {
	if role != "" {
		tags := models.RoleSynonyms[role]
		if len(tags) == 0 {
			tags = []string{role}
		}
		placeholders := make([]string, len(tags))
		args := make([]any, 0, len(tags)+0)
		for i, tag := range tags {
			placeholders[i] = "t.tags LIKE ?"
			args = append(args, `%"`+tag+`"%`)
		}
		roleClause := "AND (" + strings.Join(placeholders, " OR ") + ")"
		query := fmt.Sprintf(claimCandidateQuery, roleClause)
		var id string
		err := tx.QueryRowContext(ctx, query, args...).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("select role-matched candidate: %w", err)
		}
		// fall through to unrestricted query
	}

	query := fmt.Sprintf(claimCandidateQuery, "")
	var id string
	err := tx.QueryRowContext(ctx, query).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select claim candidate: %w", err)
	}
	return id, nil
}

func loadLeaderTxOrZero(ctx context.Context, tx *sql.Tx) (int64, error) {
	l, err := loadLeaderTx(ctx, tx)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load leader term: %w", err)
	}
	return l.Term, nil
}
