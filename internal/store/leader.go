package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// TryBecomeLeader runs the election protocol in one transaction: insert if no
// leader row exists; renew if the caller already holds an unexpired lease;
// take over with a fencing `WHERE term = T` guard if the lease has
// expired; otherwise fail without writing.
func TryBecomeLeader(ctx context.Context, db *sql.DB, agentID string, leaseSeconds int) (held bool, term int64, err error) {
	err = Transact(ctx, db, func(tx *sql.Tx) error {
		if hbErr := HeartbeatAgentTx(ctx, tx, agentID); hbErr != nil {
			return fmt.Errorf("heartbeat: %w", hbErr)
		}

		now := time.Now().UTC()
		lease := now.Add(time.Duration(leaseSeconds) * time.Second)

		existing, loadErr := loadLeaderTx(ctx, tx)
		if loadErr == sql.ErrNoRows {
			if _, execErr := tx.ExecContext(ctx, `
				INSERT INTO leader (id, agent_id, term, lease_expires_at, elected_at)
				VALUES (1, ?, 1, ?, ?)
			`, agentID, formatTime(lease), formatTime(now)); execErr != nil {
				if IsUniqueConstraintErr(execErr) {
					// Another candidate inserted between our read and
					// write; they won the first election.
					held, term = false, 0
					return nil
				}
				return fmt.Errorf("insert leader row: %w", execErr)
			}
			held, term = true, 1
			return appendEventTx(ctx, tx, models.EventKindLeaderElected, agentID, "", map[string]any{"term": term})
		}
		if loadErr != nil {
			return fmt.Errorf("load leader row: %w", loadErr)
		}

		if existing.LeaseExpiresAt.After(now) {
			if existing.AgentID == agentID {
				res, execErr := tx.ExecContext(ctx, `
					UPDATE leader SET lease_expires_at = ? WHERE id = 1 AND term = ? AND agent_id = ?
				`, formatTime(lease), existing.Term, agentID)
				if execErr != nil {
					return fmt.Errorf("renew lease: %w", execErr)
				}
				ra, _ := res.RowsAffected()
				if ra == 0 {
					held, term = false, 0
					return nil
				}
				held, term = true, existing.Term
				return appendEventTx(ctx, tx, models.EventKindLeaderRenewed, agentID, "", map[string]any{"term": term})
			}
			held, term = false, 0
			return nil
		}

		// Lease expired: guarded take-over. WHERE term = T is the fencing
		// primitive that prevents two agents both winning
		// when their reads of the expired lease race.
		newTerm := existing.Term + 1
		res, execErr := tx.ExecContext(ctx, `
			UPDATE leader
			SET agent_id = ?, term = ?, lease_expires_at = ?, elected_at = ?
			WHERE id = 1 AND term = ?
		`, agentID, newTerm, formatTime(lease), formatTime(now), existing.Term)
		if execErr != nil {
			return fmt.Errorf("take over leader: %w", execErr)
		}
		ra, _ := res.RowsAffected()
		if ra == 0 {
			held, term = false, 0
			return nil
		}
		held, term = true, newTerm
		return appendEventTx(ctx, tx, models.EventKindLeaderElected, agentID, "", map[string]any{"term": newTerm, "took_over_from": existing.AgentID})
	})
	if err != nil {
		return false, 0, err
	}
	return held, term, nil
}

// StepDown voluntarily releases leadership, guarded by the caller's
// observed term (a stale ex-leader's step-down is a harmless no-op).
func StepDown(ctx context.Context, db *sql.DB, agentID string, term int64) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM leader WHERE id = 1 AND agent_id = ? AND term = ?
		`, agentID, term)
		if err != nil {
			return fmt.Errorf("step down: %w", err)
		}
		if ra, _ := res.RowsAffected(); ra == 0 {
			return nil // already deposed or already stepped down; idempotent
		}
		return appendEventTx(ctx, tx, models.EventKindLeaderStepDown, agentID, "", map[string]any{"term": term})
	})
}

// GetLeader returns the current leader row, or (nil, nil) if none exists yet.
func GetLeader(ctx context.Context, db *sql.DB) (*models.Leader, error) {
	var l models.Leader
	var leaseExpires, electedAt string
	err := db.QueryRowContext(ctx, `
		SELECT agent_id, term, lease_expires_at, elected_at FROM leader WHERE id = 1
	`).Scan(&l.AgentID, &l.Term, &leaseExpires, &electedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get leader: %w", err)
	}
	if l.LeaseExpiresAt, err = parseTime(leaseExpires); err != nil {
		return nil, fmt.Errorf("parse lease_expires_at: %w", err)
	}
	if l.ElectedAt, err = parseTime(electedAt); err != nil {
		return nil, fmt.Errorf("parse elected_at: %w", err)
	}
	return &l, nil
}

func loadLeaderTx(ctx context.Context, tx *sql.Tx) (*models.Leader, error) {
	var l models.Leader
	var leaseExpires, electedAt string
	err := tx.QueryRowContext(ctx, `
		SELECT agent_id, term, lease_expires_at, elected_at FROM leader WHERE id = 1
	`).Scan(&l.AgentID, &l.Term, &leaseExpires, &electedAt)
	if err != nil {
		return nil, err
	}
	if l.LeaseExpiresAt, err = parseTime(leaseExpires); err != nil {
		return nil, fmt.Errorf("parse lease_expires_at: %w", err)
	}
	if l.ElectedAt, err = parseTime(electedAt); err != nil {
		return nil, fmt.Errorf("parse elected_at: %w", err)
	}
	return &l, nil
}

// IsLeader reports whether agentID currently holds an unexpired lease,
// used by fencing checks elsewhere (e.g. who may run administrative
// recovery writes).
func IsLeader(ctx context.Context, db *sql.DB, agentID string) (bool, int64, error) {
	l, err := GetLeader(ctx, db)
	if err != nil {
		return false, 0, err
	}
	if l == nil {
		return false, 0, nil
	}
	if l.AgentID != agentID {
		return false, 0, nil
	}
	if l.IsExpired(time.Now().UTC()) {
		return false, 0, nil
	}
	return true, l.Term, nil
}
