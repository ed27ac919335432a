package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestClaimTask_OnePendingTaskOnlyOneWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	task := mustAddTask(t, db, "only task", creator.ID)

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	claimed, err := ClaimTask(ctx, db, a.ID, "")
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	_, err = ClaimTask(ctx, db, b.ID, "")
	require.Error(t, err)
	var noTask *NoTaskError
	require.ErrorAs(t, err, &noTask)
}

func TestClaimTask_RaceLostOnSpecificTaskAlreadyClaimed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	task := mustAddTask(t, db, "contested", creator.ID)

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	_, err := ClaimTask(ctx, db, a.ID, task.ID)
	require.NoError(t, err)

	_, err = ClaimTask(ctx, db, b.ID, task.ID)
	require.Error(t, err)
	var raceErr *RaceLostError
	require.ErrorAs(t, err, &raceErr)
}

func TestClaimTask_RespectsDependencyOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	parent := mustAddTask(t, db, "parent", creator.ID)
	child, err := AddTask(ctx, db, AddTaskInput{Title: "child", CreatedBy: creator.ID, ParentIDs: []string{parent.ID}})
	require.NoError(t, err)

	worker := mustJoin(t, db, "worker")
	claimed, err := ClaimTask(ctx, db, worker.ID, "")
	require.NoError(t, err)
	require.Equal(t, parent.ID, claimed.ID, "child must not be claimable before its parent completes")

	require.NoError(t, DoneTask(ctx, db, worker.ID, parent.ID, "ok"))

	claimed, err = ClaimTask(ctx, db, worker.ID, "")
	require.NoError(t, err)
	require.Equal(t, child.ID, claimed.ID)
}

func TestClaimTask_AgentAlreadyHoldingTaskRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	mustAddTask(t, db, "t1", creator.ID)
	mustAddTask(t, db, "t2", creator.ID)

	worker := mustJoin(t, db, "worker")
	_, err := ClaimTask(ctx, db, worker.ID, "")
	require.NoError(t, err)

	_, err = ClaimTask(ctx, db, worker.ID, "")
	require.Error(t, err)
}

func TestClaimTask_PrefersRoleMatchedTask(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	_, err := AddTask(ctx, db, AddTaskInput{Title: "generic", CreatedBy: creator.ID, Priority: 8})
	require.NoError(t, err)
	reviewTask, err := AddTask(ctx, db, AddTaskInput{Title: "review PR", CreatedBy: creator.ID, Priority: 1, Tags: []string{"review"}})
	require.NoError(t, err)

	reviewer, err := JoinAgent(ctx, db, "reviewer", models.AgentKindGeneric, nil, "reviewer", nil, "", "")
	require.NoError(t, err)

	claimed, err := ClaimTask(ctx, db, reviewer.ID, "")
	require.NoError(t, err)
	require.Equal(t, reviewTask.ID, claimed.ID, "role-tagged task should be preferred over a higher-priority generic one")
}

// N goroutines contend for the same pending task; exactly one claim
// commits, the rest observe a lost race.
func TestClaimTask_ConcurrentClaimsExactlyOneWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	creator := mustJoin(t, db, "creator")
	task := mustAddTask(t, db, "contested", creator.ID)

	const claimers = 8
	agents := make([]*models.Agent, claimers)
	for i := range agents {
		agents[i] = mustJoin(t, db, fmt.Sprintf("claimer-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ClaimTask(ctx, db, agents[i].ID, task.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var raceErr *RaceLostError
		require.ErrorAs(t, err, &raceErr)
	}
	require.Equal(t, 1, winners)

	var claimedRows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = 'claimed'`).Scan(&claimedRows))
	require.Equal(t, 1, claimedRows)

	var assignedAgents int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM agents WHERE current_task_id = ?`, task.ID).Scan(&assignedAgents))
	require.Equal(t, 1, assignedAgents, "only the winner's row carries the assignment")
}
