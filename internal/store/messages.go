package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// SendMessage is a single insert.
// toAgent is an agent id, "" for broadcast, or one of the addressing
// sentinels models.AddressLeader / models.AddressIdle.
func SendMessage(ctx context.Context, db *sql.DB, fromAgent, toAgent, content string, msgType models.MessageType, replyTo *int64) (*models.Message, error) {
	var msg *models.Message
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		var err error
		msg, err = SendMessageTx(ctx, tx, fromAgent, toAgent, content, msgType, replyTo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SendMessageTx is the transaction-scoped half of SendMessage, reused by
// RunIdempotent callers.
func SendMessageTx(ctx context.Context, tx *sql.Tx, fromAgent, toAgent, content string, msgType models.MessageType, replyTo *int64) (*models.Message, error) {
	msg := &models.Message{
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Content:   content,
		Type:      msgType,
		CreatedAt: time.Now().UTC(),
		ReplyTo:   replyTo,
	}

	if err := HeartbeatAgentTx(ctx, tx, fromAgent); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if msgType == models.MessageTypeResponse {
		if replyTo == nil {
			return nil, fmt.Errorf("a response message must set reply_to")
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, *replyTo).Scan(&exists); err != nil {
			return nil, fmt.Errorf("verify reply_to target: %w", err)
		}
		if exists == 0 {
			return nil, &NotFoundError{Entity: "message", ID: fmt.Sprintf("%d", *replyTo)}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (from_agent_id, to_agent, content, type, created_at, reply_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fromAgent, nullableStr(toAgent), content, string(msgType), formatTime(msg.CreatedAt), replyToArg(replyTo))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}
	msg.ID = id

	kind := models.EventKindMessageSent
	if msgType == models.MessageTypeResponse {
		kind = models.EventKindMessageReplied
	}
	if err := appendEventTx(ctx, tx, kind, fromAgent, "", map[string]any{"to": toAgent, "type": string(msgType)}); err != nil {
		return nil, err
	}
	return msg, nil
}

func replyToArg(replyTo *int64) any {
	if replyTo == nil {
		return nil
	}
	return *replyTo
}

// Inbox returns messages addressed to recipientID. Recipient resolution
// happens at read time: to_agent is one of {recipientID, NULL (broadcast), "@leader" if
// recipientID is leader, "@idle" if recipientID has no current task}.
// When markRead is set, returned unread messages get read_at stamped
// exactly once; pass markRead=false to peek.
func Inbox(ctx context.Context, db *sql.DB, recipientID string, unreadOnly, markRead bool) ([]*models.Message, error) {
	var out []*models.Message
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		isLeader, _, err := isLeaderTx(ctx, tx, recipientID)
		if err != nil {
			return err
		}
		agent, err := getAgentTx(ctx, tx, recipientID)
		if err != nil {
			return err
		}
		isIdle := agent.CurrentTaskID == ""

		addrs := []string{recipientID}
		if isLeader {
			addrs = append(addrs, models.AddressLeader)
		}
		if isIdle {
			addrs = append(addrs, models.AddressIdle)
		}

		query := `
			SELECT id, from_agent_id, to_agent, content, type, created_at, read_at, reply_to
			FROM messages
			WHERE (to_agent IS NULL OR to_agent IN (` + placeholders(len(addrs)) + `))`
		args := toAnySlice(addrs)
		if unreadOnly {
			query += ` AND read_at IS NULL`
		}
		query += ` ORDER BY created_at ASC`

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query inbox: %w", err)
		}
		defer func() { _ = rows.Close() }()

		readStamp := time.Now().UTC()
		var ids []int64
		for rows.Next() {
			var m models.Message
			var fromAgent, toAgent, readAt sql.NullString
			var replyTo sql.NullInt64
			var createdAt string
			if err := rows.Scan(&m.ID, &fromAgent, &toAgent, &m.Content, &m.Type, &createdAt, &readAt, &replyTo); err != nil {
				return fmt.Errorf("scan message: %w", err)
			}
			m.FromAgent = models.UnknownAgentPlaceholder
			if fromAgent.Valid {
				m.FromAgent = fromAgent.String
			}
			if toAgent.Valid {
				m.ToAgent = toAgent.String
			}
			if m.CreatedAt, err = parseTime(createdAt); err != nil {
				return fmt.Errorf("parse message created_at: %w", err)
			}
			if readAt.Valid {
				t, perr := parseTime(readAt.String)
				if perr != nil {
					return fmt.Errorf("parse message read_at: %w", perr)
				}
				m.ReadAt = &t
			}
			if replyTo.Valid {
				m.ReplyTo = &replyTo.Int64
			}
			out = append(out, &m)
			if markRead && m.ReadAt == nil {
				ids = append(ids, m.ID)
				stamp := readStamp
				m.ReadAt = &stamp
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(ids) > 0 {
			now := formatTime(readStamp)
			for _, id := range ids {
				if _, err := tx.ExecContext(ctx, `UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL`, now, id); err != nil {
					return fmt.Errorf("mark message read: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AskResult is returned by Ask: the sent request's id, used to poll for a reply.
type AskResult struct {
	RequestID int64
}

// Ask sends a request message and returns its id. The caller polls
// WaitForReply with that id.
func Ask(ctx context.Context, db *sql.DB, fromAgent, toAgent, content string) (*AskResult, error) {
	msg, err := SendMessage(ctx, db, fromAgent, toAgent, content, models.MessageTypeRequest, nil)
	if err != nil {
		return nil, err
	}
	return &AskResult{RequestID: msg.ID}, nil
}

// Reply inserts a response message with reply_to set.
func Reply(ctx context.Context, db *sql.DB, fromAgent, toAgent, content string, requestID int64) (*models.Message, error) {
	return SendMessage(ctx, db, fromAgent, toAgent, content, models.MessageTypeResponse, &requestID)
}

// WaitForReply polls for any message whose reply_to equals requestID,
// sleeping pollInterval between polls, until either a reply is found or
// timeout expires.
func WaitForReply(ctx context.Context, db *sql.DB, requestID int64, pollInterval, timeout time.Duration) (*models.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		var m models.Message
		var fromAgent, toAgent, readAt sql.NullString
		var createdAt string
		var replyTo sql.NullInt64
		err := db.QueryRowContext(ctx, `
			SELECT id, from_agent_id, to_agent, content, type, created_at, read_at, reply_to
			FROM messages WHERE reply_to = ? ORDER BY id ASC LIMIT 1
		`, requestID).Scan(&m.ID, &fromAgent, &toAgent, &m.Content, &m.Type, &createdAt, &readAt, &replyTo)
		if err == nil {
			m.FromAgent = models.UnknownAgentPlaceholder
			if fromAgent.Valid {
				m.FromAgent = fromAgent.String
			}
			if toAgent.Valid {
				m.ToAgent = toAgent.String
			}
			if m.CreatedAt, err = parseTime(createdAt); err != nil {
				return nil, fmt.Errorf("parse reply created_at: %w", err)
			}
			if replyTo.Valid {
				m.ReplyTo = &replyTo.Int64
			}
			return &m, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("poll for reply: %w", err)
		}

		if time.Now().After(deadline) {
			return nil, &models.KernelError{Kind: models.KindTimeout, Message: fmt.Sprintf("no reply to request %d after %s", requestID, timeout)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func isLeaderTx(ctx context.Context, tx *sql.Tx, agentID string) (bool, int64, error) {
	l, err := loadLeaderTx(ctx, tx)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("check leader: %w", err)
	}
	if l.AgentID != agentID {
		return false, 0, nil
	}
	if l.IsExpired(time.Now().UTC()) {
		return false, 0, nil
	}
	return true, l.Term, nil
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
