package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// JoinAgent registers a new agent.
func JoinAgent(ctx context.Context, db *sql.DB, name string, kind models.AgentKind, pid *int, role string, capabilities []string, metadataJSON string, sessionKey string) (*models.Agent, error) {
	if capabilities == nil {
		capabilities = []string{}
	}
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	if !json.Valid([]byte(metadataJSON)) {
		return nil, fmt.Errorf("metadata must be valid JSON")
	}

	agent := &models.Agent{
		ID:              NewID(),
		Name:            name,
		Kind:            kind,
		PID:             pid,
		Status:          models.AgentStatusActive,
		LastHeartbeatAt: time.Now().UTC(),
		RegisteredAt:    time.Now().UTC(),
		Capabilities:    capabilities,
		Role:            role,
		Metadata:        metadataJSON,
		SessionKey:      sessionKey,
	}

	err = Transact(ctx, db, func(tx *sql.Tx) error {
		var pidVal any
		if pid != nil {
			pidVal = *pid
		}
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO agents (id, name, kind, os_pid, status, last_heartbeat_at, registered_at, capabilities, role, metadata, session_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, agent.ID, agent.Name, string(agent.Kind), pidVal, string(agent.Status),
			formatTime(agent.LastHeartbeatAt), formatTime(agent.RegisteredAt), string(caps), agent.Role, agent.Metadata, nullableStr(sessionKey))
		if execErr != nil {
			if IsUniqueConstraintErr(execErr) {
				return fmt.Errorf("agent name %q is already registered", name)
			}
			return fmt.Errorf("insert agent: %w", execErr)
		}
		return appendEventTx(ctx, tx, models.EventKindAgentJoined, agent.ID, "", map[string]any{"name": name, "kind": string(kind)})
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// LeaveAgent removes the agent from the quorum: release all file
// locks owned by the agent, return any claimed task to pending
// (retry_count++), and remove the agent row. The leave command deletes the
// caller's session file after this succeeds.
func LeaveAgent(ctx context.Context, db *sql.DB, agentID string) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		agent, err := getAgentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}

		if _, err := releaseAllLocksTx(ctx, tx, agentID); err != nil {
			return err
		}
		claimedIDs, err := queryStringColumn(ctx, tx, `SELECT id FROM tasks WHERE claimed_by = ? AND status = 'claimed'`, agentID)
		if err != nil {
			return fmt.Errorf("list claimed tasks: %w", err)
		}
		if err := abandonAgentClaimsTx(ctx, tx, agentID, "agent left"); err != nil {
			return err
		}
		for _, id := range claimedIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'pending', version = version + 1, updated_at = ? WHERE id = ? AND status = 'abandoned'`, formatTime(time.Now().UTC()), id); err != nil {
				return fmt.Errorf("requeue task %s: %w", id, err)
			}
		}
		if err := stepDownIfLeaderTx(ctx, tx, agentID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, agentID); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return appendEventTx(ctx, tx, models.EventKindAgentLeft, agentID, "", map[string]any{"name": agent.Name})
	})
}

// stepDownIfLeaderTx implements the leadership state machine's voluntary
// step-down transition. A no-op if agentID does not currently hold the
// leader row, so the agents table foreign key never blocks on a stale
// leader reference after the row is deleted.
func stepDownIfLeaderTx(ctx context.Context, tx *sql.Tx, agentID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM leader WHERE id = 1 AND agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("step down on leave: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return nil
	}
	return appendEventTx(ctx, tx, models.EventKindLeaderStepDown, agentID, "", map[string]any{"reason": "agent left"})
}

// HeartbeatAgent stamps last_heartbeat_at=now. Every kernel operation
// calls this at entry. A dead agent cannot heartbeat itself back to
// life: once the sweep marks it dead it must rejoin, or it could resume
// claiming tasks and holding locks in violation of the dead-agent
// invariant.
func HeartbeatAgent(ctx context.Context, db *sql.DB, agentID string) error {
	return RetryWithBackoff(ctx, func() error {
		res, err := db.ExecContext(ctx, `
			UPDATE agents SET last_heartbeat_at = ? WHERE id = ? AND status != 'dead'
		`, formatTime(time.Now().UTC()), agentID)
		if err != nil {
			return err
		}
		if ra, _ := res.RowsAffected(); ra == 0 {
			return heartbeatRefusedErr(ctx, db, agentID)
		}
		return nil
	})
}

// HeartbeatAgentTx is the in-transaction variant, used when heartbeat is
// folded into the same transaction as the operation it precedes. Same
// dead-agent refusal as HeartbeatAgent.
func HeartbeatAgentTx(ctx context.Context, tx *sql.Tx, agentID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET last_heartbeat_at = ? WHERE id = ? AND status != 'dead'`, formatTime(time.Now().UTC()), agentID)
	if err != nil {
		return err
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return heartbeatRefusedErr(ctx, tx, agentID)
	}
	return nil
}

// heartbeatRefusedErr explains a zero-row heartbeat update: the agent row
// is gone, or the sweep marked it dead.
func heartbeatRefusedErr(ctx context.Context, q Querier, agentID string) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM agents WHERE id = ?`, agentID).Scan(&status)
	if err == sql.ErrNoRows {
		return &NotFoundError{Entity: "agent", ID: agentID}
	}
	if err != nil {
		return fmt.Errorf("check agent status: %w", err)
	}
	return models.NewKernelError(models.KindNotJoined,
		fmt.Sprintf("agent %s has been marked dead; rejoin before performing operations", agentID),
		map[string]string{"agent_id": agentID, "status": status})
}

// GetAgent loads an agent by id.
func GetAgent(ctx context.Context, db *sql.DB, agentID string) (*models.Agent, error) {
	var a models.Agent
	if err := scanAgentRowGeneric(db.QueryRowContext(ctx, agentSelectColumns+` WHERE id = ?`, agentID), &a); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "agent", ID: agentID}
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// GetAgentByName loads an agent by its unique name.
func GetAgentByName(ctx context.Context, db *sql.DB, name string) (*models.Agent, error) {
	var a models.Agent
	if err := scanAgentRowGeneric(db.QueryRowContext(ctx, agentSelectColumns+` WHERE name = ?`, name), &a); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "agent", ID: name}
		}
		return nil, fmt.Errorf("get agent by name: %w", err)
	}
	return &a, nil
}

// ListAgents returns all registered agents ordered by registration time.
func ListAgents(ctx context.Context, db *sql.DB) ([]*models.Agent, error) {
	rows, err := db.QueryContext(ctx, agentSelectColumns+` ORDER BY registered_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := scanAgentRowGeneric(rows, &a); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

const agentSelectColumns = `
	SELECT id, name, kind, os_pid, status, last_heartbeat_at, registered_at, current_task_id, capabilities, role, metadata, session_key
	FROM agents`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanAgentRowGeneric serve single-row lookups and multi-row listings alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentRowGeneric(s rowScanner, a *models.Agent) error {
	var osPID sql.NullInt64
	var currentTaskID, sessionKey sql.NullString
	var kind, status, capsJSON string
	var lastHeartbeat, registered string

	if err := s.Scan(&a.ID, &a.Name, &kind, &osPID, &status, &lastHeartbeat, &registered, &currentTaskID, &capsJSON, &a.Role, &a.Metadata, &sessionKey); err != nil {
		return err
	}
	a.Kind = models.AgentKind(kind)
	a.Status = models.AgentStatus(status)
	if osPID.Valid {
		pid := int(osPID.Int64)
		a.PID = &pid
	}
	if currentTaskID.Valid {
		a.CurrentTaskID = currentTaskID.String
	}
	if sessionKey.Valid {
		a.SessionKey = sessionKey.String
	}
	var err error
	if a.LastHeartbeatAt, err = parseTime(lastHeartbeat); err != nil {
		return fmt.Errorf("parse last_heartbeat_at: %w", err)
	}
	if a.RegisteredAt, err = parseTime(registered); err != nil {
		return fmt.Errorf("parse registered_at: %w", err)
	}
	if capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &a.Capabilities); err != nil {
			return fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	return nil
}

func getAgentTx(ctx context.Context, tx *sql.Tx, agentID string) (*models.Agent, error) {
	var a models.Agent
	if err := scanAgentRowGeneric(tx.QueryRowContext(ctx, agentSelectColumns+` WHERE id = ?`, agentID), &a); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "agent", ID: agentID}
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
