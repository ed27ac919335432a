package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// appendEventTx inserts an append-only audit record.
// agentID/taskID may be empty; detail is marshaled to JSON (nil becomes "{}").
func appendEventTx(ctx context.Context, tx *sql.Tx, kind string, agentID, taskID string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (created_at, type, agent_id, task_id, detail)
		VALUES (?, ?, ?, ?, ?)
	`, formatTime(time.Now().UTC()), kind, nullableStr(agentID), nullableStr(taskID), string(b))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// AppendEvent is the standalone (non-transactional) variant, for callers
// that want to log an event without an enclosing business transaction
// (e.g. the CLI logging its own invocation).
func AppendEvent(ctx context.Context, db *sql.DB, kind string, agentID, taskID string, detail map[string]any) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		return appendEventTx(ctx, tx, kind, agentID, taskID, detail)
	})
}

// EventFilter narrows TailEvents results.
type EventFilter struct {
	SinceID int64
	Type    string
	AgentID string
	Limit   int
}

// normalizeDetail re-marshals a stored detail blob so callers always see
// canonical JSON (or nothing, if the stored blob is empty or corrupt).
func normalizeDetail(raw string) json.RawMessage {
	if raw == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return nil
	}
	return canonical
}

// TailEvents returns events matching filter ordered by id ascending.
func TailEvents(ctx context.Context, db *sql.DB, filter EventFilter) ([]*models.Event, error) {
	query := `SELECT id, created_at, type, agent_id, task_id, detail FROM events WHERE id > ?`
	args := []any{filter.SinceID}

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tail events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		var createdAt string
		var agentID, taskID sql.NullString
		var detail string
		if err := rows.Scan(&e.ID, &createdAt, &e.Type, &agentID, &taskID, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		if agentID.Valid {
			e.AgentID = agentID.String
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		e.Detail = normalizeDetail(detail)
		out = append(out, &e)
	}
	return out, rows.Err()
}
