package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/probe"
)

// RecoverySweepResult summarizes one sweep's actions, for callers that
// want to log or display what happened.
type RecoverySweepResult struct {
	DeadAgents     []string
	Unresponsive   []string
	RequeuedTasks  []string
	StuckReclaimed []string
}

// RunRecoverySweep performs the dead-agent and stale-claim sweep:
//  1. select agents with status=active and last_heartbeat_at older than
//     deadThreshold;
//  2. for each, probe its recorded OS pid; if still alive, emit
//     agent_unresponsive and leave it active;
//  3. otherwise, in one transaction: mark it dead, abandon its claimed
//     tasks, release its locks, emit agent_died;
//  4. separately, requeue abandoned tasks with retries remaining;
//  5. separately, reclaim any claim stuck past claimTimeout.
func RunRecoverySweep(ctx context.Context, db *sql.DB, deadThreshold, claimTimeout time.Duration) (*RecoverySweepResult, error) {
	result := &RecoverySweepResult{}

	cutoff := time.Now().UTC().Add(-deadThreshold)
	candidates, err := queryStringColumn(ctx, db, `
		SELECT id FROM agents WHERE status = 'active' AND last_heartbeat_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("select dead-agent candidates: %w", err)
	}

	for _, agentID := range candidates {
		agent, err := GetAgent(ctx, db, agentID)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				continue // raced with a leave
			}
			return nil, err
		}

		if agent.PID != nil && probe.Alive(*agent.PID) {
			result.Unresponsive = append(result.Unresponsive, agentID)
			if err := AppendEvent(ctx, db, models.EventKindAgentUnresponsive, agentID, "", map[string]any{"pid": *agent.PID}); err != nil {
				return nil, err
			}
			continue
		}

		if err := markAgentDead(ctx, db, agentID); err != nil {
			return nil, err
		}
		result.DeadAgents = append(result.DeadAgents, agentID)
	}

	err = Transact(ctx, db, func(tx *sql.Tx) error {
		requeued, err := requeueRetryableAbandonedTx(ctx, tx)
		if err != nil {
			return err
		}
		result.RequeuedTasks = requeued

		stuck, err := reclaimStuckClaimsTx(ctx, tx, claimTimeout)
		if err != nil {
			return err
		}
		result.StuckReclaimed = stuck
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := AppendEvent(ctx, db, models.EventKindRecoverySwept, "", "", map[string]any{
		"dead_agents":     len(result.DeadAgents),
		"requeued_tasks":  len(result.RequeuedTasks),
		"stuck_reclaimed": len(result.StuckReclaimed),
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// markAgentDead performs the death transition in one transaction: set
// agent.status=dead, abandon its claimed tasks, release its locks, emit
// agent_died.
func markAgentDead(ctx context.Context, db *sql.DB, agentID string) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE agents SET status = 'dead' WHERE id = ? AND status = 'active'`, agentID)
		if err != nil {
			return fmt.Errorf("mark agent dead: %w", err)
		}
		if ra, _ := res.RowsAffected(); ra == 0 {
			return nil // already handled by a racing sweep
		}
		if err := abandonAgentClaimsTx(ctx, tx, agentID, "agent died"); err != nil {
			return err
		}
		if _, err := releaseAllLocksTx(ctx, tx, agentID); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, models.EventKindAgentDied, agentID, "", nil)
	})
}

// ShouldRunOpportunisticSweep reports whether any agent should sweep
// because more than 2x the dead threshold has elapsed since the last
// recorded sweep event.
func ShouldRunOpportunisticSweep(ctx context.Context, db *sql.DB, deadThreshold time.Duration) (bool, error) {
	return sweepDueSince(ctx, db, 2*deadThreshold)
}

// ShouldRunLeaderSweep reports whether the leader is due to sweep: at
// most once per heartbeat interval rather than on every invocation.
func ShouldRunLeaderSweep(ctx context.Context, db *sql.DB, heartbeatInterval time.Duration) (bool, error) {
	return sweepDueSince(ctx, db, heartbeatInterval)
}

func sweepDueSince(ctx context.Context, db *sql.DB, minGap time.Duration) (bool, error) {
	var lastSweep sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT created_at FROM events WHERE type = ? ORDER BY id DESC LIMIT 1
	`, models.EventKindRecoverySwept).Scan(&lastSweep)
	if err == sql.ErrNoRows || !lastSweep.Valid {
		return true, nil // never swept: run one now
	}
	if err != nil {
		return false, fmt.Errorf("check last sweep time: %w", err)
	}
	t, err := parseTime(lastSweep.String)
	if err != nil {
		return false, fmt.Errorf("parse last sweep time: %w", err)
	}
	return time.Since(t) > minGap, nil
}
