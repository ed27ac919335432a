package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

// rewindHeartbeat backdates an agent's last_heartbeat_at directly, bypassing
// HeartbeatAgent, to simulate the passage of time without sleeping in tests.
func rewindHeartbeat(t *testing.T, ctx context.Context, db *sql.DB, agentID string, age time.Duration) {
	t.Helper()
	_, err := db.ExecContext(ctx, `UPDATE agents SET last_heartbeat_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC().Add(-age)), agentID)
	require.NoError(t, err)
}

func TestRunRecoverySweep_OrphanRecovery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dead := mustJoin(t, db, "dead-agent")
	_, err := db.ExecContext(ctx, `UPDATE agents SET os_pid = ? WHERE id = ?`, 999999, dead.ID)
	require.NoError(t, err)

	task := mustAddTask(t, db, "claimed work", dead.ID)
	_, err = ClaimTask(ctx, db, dead.ID, task.ID)
	require.NoError(t, err)

	_, err = AcquireLock(ctx, db, "/tmp/whatever.go", dead.ID)
	require.NoError(t, err)

	rewindHeartbeat(t, ctx, db, dead.ID, 301*time.Second)

	result, err := RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)
	require.Contains(t, result.DeadAgents, dead.ID)
	require.Contains(t, result.RequeuedTasks, task.ID)

	reloadedAgent, err := GetAgent(ctx, db, dead.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusDead, reloadedAgent.Status)

	reloadedTask, err := GetTask(ctx, db, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, reloadedTask.Status)
	require.Equal(t, 1, reloadedTask.RetryCount)

	locks, err := ListLocks(ctx, db)
	require.NoError(t, err)
	require.Empty(t, locks)

	claimer := mustJoin(t, db, "claimer")
	claimed, err := ClaimTask(ctx, db, claimer.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
}

func TestRunRecoverySweep_UnresponsiveIsNotMarkedDead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "still-alive")
	selfPID := 1 // pid 1 always exists on any unix host running this test
	_, err := db.ExecContext(ctx, `UPDATE agents SET os_pid = ? WHERE id = ?`, selfPID, a.ID)
	require.NoError(t, err)
	rewindHeartbeat(t, ctx, db, a.ID, 301*time.Second)

	result, err := RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)
	require.Contains(t, result.Unresponsive, a.ID)
	require.NotContains(t, result.DeadAgents, a.ID)

	reloaded, err := GetAgent(ctx, db, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, reloaded.Status)
}

func TestRunRecoverySweep_StuckClaimReclaimedWithoutTouchingAgent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "busy")
	task := mustAddTask(t, db, "stuck work", a.ID)
	_, err := ClaimTask(ctx, db, a.ID, task.ID)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE tasks SET claimed_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC().Add(-31*time.Minute)), task.ID)
	require.NoError(t, err)

	result, err := RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)
	require.Contains(t, result.StuckReclaimed, task.ID)

	reloadedAgent, err := GetAgent(ctx, db, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, reloadedAgent.Status, "stuck-claim reclaim does not mark the owning agent dead")

	// Reclaiming a stuck claim abandons it within the same sweep call that
	// scans for retryable-abandoned tasks, so the retry-requeue runs before
	// this particular task is abandoned; it only returns to pending on the
	// *next* sweep.
	abandonedTask, err := GetTask(ctx, db, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusAbandoned, abandonedTask.Status)
	require.Equal(t, 1, abandonedTask.RetryCount)

	_, err = RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)
	reclaimedTask, err := GetTask(ctx, db, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, reclaimedTask.Status)
}

func TestShouldRunLeaderSweep_TrueWhenNeverSwept(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	due, err := ShouldRunLeaderSweep(ctx, db, 10*time.Second)
	require.NoError(t, err)
	require.True(t, due)
}

func TestShouldRunLeaderSweep_FalseRightAfterSweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)

	due, err := ShouldRunLeaderSweep(ctx, db, time.Hour)
	require.NoError(t, err)
	require.False(t, due)
}

func TestShouldRunOpportunisticSweep_UsesDoubleThreshold(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := RunRecoverySweep(ctx, db, 300*time.Second, 30*time.Minute)
	require.NoError(t, err)

	backdateSweep := func(age time.Duration) {
		_, err := db.ExecContext(ctx, `UPDATE events SET created_at = ? WHERE type = ?`,
			formatTime(time.Now().UTC().Add(-age)), models.EventKindRecoverySwept)
		require.NoError(t, err)
	}

	backdateSweep(90 * time.Minute)
	due, err := ShouldRunOpportunisticSweep(ctx, db, time.Hour)
	require.NoError(t, err)
	require.False(t, due, "90m is past 1x but not 2x a 1h threshold")

	backdateSweep(3 * time.Hour)
	due, err = ShouldRunOpportunisticSweep(ctx, db, time.Hour)
	require.NoError(t, err)
	require.True(t, due, "3h is past 2x a 1h threshold")
}
