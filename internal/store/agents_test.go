package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestJoinAgent_DuplicateNameRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := JoinAgent(ctx, db, "alice", models.AgentKindGeneric, nil, "", nil, "", "")
	require.NoError(t, err)

	_, err = JoinAgent(ctx, db, "alice", models.AgentKindGeneric, nil, "", nil, "", "")
	require.Error(t, err)
}

func TestLeaveAgent_ReleasesLocksAndAbandonsClaim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	agent := mustJoin(t, db, "alice")
	_, err := AcquireLock(ctx, db, "/repo/file.go", agent.ID)
	require.NoError(t, err)

	task := mustAddTask(t, db, "do work", agent.ID)
	claimed, err := ClaimTask(ctx, db, agent.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	require.NoError(t, LeaveAgent(ctx, db, agent.ID))

	locks, err := ListLocks(ctx, db)
	require.NoError(t, err)
	require.Empty(t, locks)

	reloaded, err := GetTask(ctx, db, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, reloaded.Status)
	require.Equal(t, 1, reloaded.RetryCount)

	_, err = GetAgent(ctx, db, agent.ID)
	require.Error(t, err)
}

func TestHeartbeatAgent_UpdatesTimestamp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	agent := mustJoin(t, db, "alice")
	before := agent.LastHeartbeatAt

	require.NoError(t, HeartbeatAgent(ctx, db, agent.ID))

	reloaded, err := GetAgent(ctx, db, agent.ID)
	require.NoError(t, err)
	require.True(t, !reloaded.LastHeartbeatAt.Before(before))
}

func TestListAgents_OrderedByRegistration(t *testing.T) {
	db := newTestDB(t)

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	agents, err := ListAgents(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	require.Equal(t, a.ID, agents[0].ID)
	require.Equal(t, b.ID, agents[1].ID)
}

func TestHeartbeatAgent_DeadAgentRefused(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ghost := mustJoin(t, db, "ghost")
	_, err := db.ExecContext(ctx, `UPDATE agents SET status = 'dead' WHERE id = ?`, ghost.ID)
	require.NoError(t, err)

	err = HeartbeatAgent(ctx, db, ghost.ID)
	require.Error(t, err)
	var kerr *models.KernelError
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, models.KindNotJoined, kerr.Kind)

	creator := mustJoin(t, db, "creator")
	mustAddTask(t, db, "work", creator.ID)

	// A dead agent is refused at operation entry; it cannot resume
	// claiming tasks by replaying its old id.
	_, err = ClaimTask(ctx, db, ghost.ID, "")
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, models.KindNotJoined, kerr.Kind)
}

func TestHeartbeatAgent_UnknownAgentNotFound(t *testing.T) {
	db := newTestDB(t)

	err := HeartbeatAgent(context.Background(), db, "deadbeef")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
