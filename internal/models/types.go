package models

import (
	"encoding/json"
	"time"
)

// ID Strategy: agents and tasks use 8-character random hex strings (see
// store/id.go) so two independent processes can mint an identifier without
// coordinating through the store first. Messages and events use an
// autoincrementing int64 because they are append-only logs where a
// monotonic ordering is part of the contract.

// AgentKind identifies the flavor of client registered as an agent.
type AgentKind string

// Known agent kinds.
const (
	AgentKindClaude  AgentKind = "claude"
	AgentKindCodex   AgentKind = "codex"
	AgentKindGemini  AgentKind = "gemini"
	AgentKindGeneric AgentKind = "generic"
)

// AgentStatus is the liveness state of an agent row.
type AgentStatus string

// Agent status constants.
const (
	AgentStatusActive AgentStatus = "active"
	AgentStatusIdle   AgentStatus = "idle"
	AgentStatusDead   AgentStatus = "dead"
)

// RoleSynonyms lists the predefined role synonyms used by role-based claim
// preference: a task tagged with any synonym counts as a match for
// the role.
var RoleSynonyms = map[string][]string{
	"reviewer": {"review", "reviewer", "qa"},
	"frontend": {"frontend", "ui", "web"},
	"backend":  {"backend", "api", "server"},
	"testing":  {"testing", "test", "qa"},
	"devops":   {"devops", "infra", "ops", "ci"},
}

// Agent is a registered participant in one project's quorum.
type Agent struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Kind            AgentKind   `json:"kind"`
	PID             *int        `json:"pid,omitempty"`
	Status          AgentStatus `json:"status"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
	RegisteredAt    time.Time   `json:"registered_at"`
	CurrentTaskID   string      `json:"current_task_id,omitempty"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	Role            string      `json:"role,omitempty"`
	Metadata        string      `json:"metadata,omitempty"` // JSON string
	SessionKey      string      `json:"session_key,omitempty"`
}

// IsDead returns true if the agent has been swept as dead.
func (a *Agent) IsDead() bool { return a.Status == AgentStatusDead }

// HasClaim returns true if the agent currently holds a task.
func (a *Agent) HasClaim() bool { return a.CurrentTaskID != "" }

// Leader is the singleton leadership row.
type Leader struct {
	AgentID        string    `json:"agent_id"`
	Term           int64     `json:"term"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	ElectedAt      time.Time `json:"elected_at"`
}

// IsExpired reports whether the lease has lapsed as of t.
func (l *Leader) IsExpired(t time.Time) bool { return !l.LeaseExpiresAt.After(t) }

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task status constants.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusAbandoned TaskStatus = "abandoned"
)

// IsTerminal reports whether the status ends the task's active lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Task is a unit of work in the scheduler.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	CreatedBy    string     `json:"created_by,omitempty"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ClaimTerm    int64      `json:"claim_term,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Tags         []string   `json:"tags,omitempty"`
	Context      string     `json:"context,omitempty"` // JSON string
	Version      int        `json:"version"`
	IsCheckpoint bool       `json:"is_checkpoint"`
	DependsOn    []string   `json:"depends_on,omitempty"`
}

// IsClaimed reports whether the task is currently held by an agent.
func (t *Task) IsClaimed() bool { return t.Status == TaskStatusClaimed }

// IsClaimable reports whether a claim attempt is even sensible for the
// status alone (dependency satisfaction is checked separately in-store).
func (t *Task) IsClaimable() bool { return t.Status == TaskStatusPending }

// CanRetry reports whether a failed/abandoned task still has retries left.
func (t *Task) CanRetry() bool { return t.RetryCount < t.MaxRetries }

// HasTag reports whether the task's tag set contains tag.
func (t *Task) HasTag(tag string) bool {
	for _, g := range t.Tags {
		if g == tag {
			return true
		}
	}
	return false
}

// TaskDependency is a directed "task depends on task" edge.
type TaskDependency struct {
	TaskID          string    `json:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// FileLock is an exclusive lock on a path string.
type FileLock struct {
	Path       string    `json:"path"`
	OwnerAgent string    `json:"owner_agent_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// MessageType distinguishes chat/request/response/system traffic.
type MessageType string

// Message type constants.
const (
	MessageTypeChat     MessageType = "chat"
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeSystem   MessageType = "system"
)

// Addressing sentinels recognized by inbox resolution.
const (
	AddressLeader = "@leader"
	AddressIdle   = "@idle"
)

// UnknownAgentPlaceholder renders in place of a message's from_agent_id
// once that agent has left and its row was removed.
const UnknownAgentPlaceholder = "(unknown agent)"

// Message is a unit of inter-agent communication.
type Message struct {
	ID        int64       `json:"id"`
	FromAgent string      `json:"from_agent"`
	ToAgent   string      `json:"to_agent,omitempty"` // "" = broadcast
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	ReplyTo   *int64      `json:"reply_to,omitempty"`
}

// IsRead reports whether the message has been delivered/read already.
func (m *Message) IsRead() bool { return m.ReadAt != nil }

// IsBroadcast reports whether the message has no specific recipient.
func (m *Message) IsBroadcast() bool { return m.ToAgent == "" }

// Event is an append-only audit record.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}
