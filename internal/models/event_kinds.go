package models

// System event kinds written by the kernel's store layer.
const (
	EventKindAgentJoined       = "agent_joined"
	EventKindAgentLeft         = "agent_left"
	EventKindAgentHeartbeat    = "agent_heartbeat"
	EventKindAgentUnresponsive = "agent_unresponsive"
	EventKindAgentDied         = "agent_died"

	EventKindLeaderElected  = "leader_elected"
	EventKindLeaderRenewed  = "leader_renewed"
	EventKindLeaderStepDown = "leader_step_down"

	EventKindTaskAdded       = "task_added"
	EventKindTaskClaimed     = "task_claimed"
	EventKindTaskProgress    = "task_progress"
	EventKindTaskDone        = "task_done"
	EventKindTaskFailed      = "task_failed"
	EventKindTaskAbandoned   = "task_abandoned"
	EventKindTaskReclaimed   = "task_reclaimed"
	EventKindTaskSerialized  = "task_serialized"
	EventKindDependencyAdded = "task_dependency_added"

	EventKindLockAcquired = "lock_acquired"
	EventKindLockReleased = "lock_released"

	EventKindMessageSent     = "message_sent"
	EventKindMessageReplied  = "message_replied"
	EventKindRecoverySwept   = "recovery_swept"
)
