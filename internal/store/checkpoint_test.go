package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestSerializeCheckpoints_EmptyQueueIsNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	inserted, err := SerializeCheckpoints(ctx, db, "", 1)
	require.NoError(t, err)
	require.Empty(t, inserted)
}

// {T1 prio 9, T2 prio 8 after T1, T3 prio 8} with no
// existing checkpoints, stride 1 -> T1 -> C1 -> T2 -> C2 -> T3.
func TestSerializeCheckpoints_ThreadsWorkTasksInClaimOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	t1, err := AddTask(ctx, db, AddTaskInput{Title: "t1", CreatedBy: creator.ID, Priority: 9})
	require.NoError(t, err)
	t2, err := AddTask(ctx, db, AddTaskInput{Title: "t2", CreatedBy: creator.ID, Priority: 8, ParentIDs: []string{t1.ID}})
	require.NoError(t, err)
	t3, err := AddTask(ctx, db, AddTaskInput{Title: "t3", CreatedBy: creator.ID, Priority: 8})
	require.NoError(t, err)

	inserted, err := SerializeCheckpoints(ctx, db, creator.ID, 1)
	require.NoError(t, err)
	require.Len(t, inserted, 2, "one checkpoint between each consecutive pair of 3 work tasks")

	order := claimOrder(t, db, creator.ID, []string{t1.ID, t2.ID, t3.ID})
	require.Equal(t, []string{t1.ID, inserted[0], t2.ID, inserted[1], t3.ID}, order)

	for _, cpID := range inserted {
		cp, err := GetTask(ctx, db, cpID)
		require.NoError(t, err)
		require.True(t, cp.IsCheckpoint)
	}
}

func TestSerializeCheckpoints_RepeatedCallSameStrideIsNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	mustAddTask(t, db, "t1", creator.ID)
	mustAddTask(t, db, "t2", creator.ID)
	mustAddTask(t, db, "t3", creator.ID)

	first, err := SerializeCheckpoints(ctx, db, creator.ID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := SerializeCheckpoints(ctx, db, creator.ID, 1)
	require.NoError(t, err)
	require.Empty(t, second, "re-serializing with the same stride must insert no new checkpoints")

	tasks, err := ListTasks(ctx, db, ListTasksFilter{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, tasks, 5, "3 work tasks + 2 checkpoints, unchanged by the second call")
}

func TestSerializeCheckpoints_Stride(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	a := mustAddTask(t, db, "a", creator.ID)
	b := mustAddTask(t, db, "b", creator.ID)
	c := mustAddTask(t, db, "c", creator.ID)
	d := mustAddTask(t, db, "d", creator.ID)

	inserted, err := SerializeCheckpoints(ctx, db, creator.ID, 2)
	require.NoError(t, err)
	require.Len(t, inserted, 1, "only every 2nd boundary gets a checkpoint")

	order := claimOrder(t, db, creator.ID, []string{a.ID, b.ID, c.ID, d.ID})
	require.Equal(t, []string{a.ID, b.ID, inserted[0], c.ID, d.ID}, order)
}

// claimOrder drains the given work-task ids (plus any checkpoints found in
// between) by repeatedly claiming+completing from a fresh worker, returning
// the order tasks were actually handed out in.
func claimOrder(t *testing.T, db *sql.DB, creatorID string, workIDs []string) []string {
	t.Helper()
	ctx := context.Background()
	worker, err := JoinAgent(ctx, db, "drain-worker", models.AgentKindGeneric, nil, "", nil, "", "")
	require.NoError(t, err)

	want := map[string]bool{}
	for _, id := range workIDs {
		want[id] = true
	}

	var out []string
	for {
		claimed, err := ClaimTask(ctx, db, worker.ID, "")
		if err != nil {
			break
		}
		out = append(out, claimed.ID)
		require.NoError(t, DoneTask(ctx, db, worker.ID, claimed.ID, "ok"))
	}
	return out
}
