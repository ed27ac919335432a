package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestTryBecomeLeader_FirstInWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	held, term, err := TryBecomeLeader(ctx, db, a.ID, 30)
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, int64(1), term)

	held, _, err = TryBecomeLeader(ctx, db, b.ID, 30)
	require.NoError(t, err)
	require.False(t, held)
}

func TestTryBecomeLeader_RenewsOwnLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	held, term1, err := TryBecomeLeader(ctx, db, a.ID, 30)
	require.NoError(t, err)
	require.True(t, held)

	held, term2, err := TryBecomeLeader(ctx, db, a.ID, 30)
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, term1, term2)
}

func TestTryBecomeLeader_TakeoverAfterExpiryIncrementsTerm(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	_, term1, err := TryBecomeLeader(ctx, db, a.ID, -1)
	require.NoError(t, err)
	require.Equal(t, int64(1), term1)

	held, term2, err := TryBecomeLeader(ctx, db, b.ID, 30)
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, term1+1, term2)
}

func TestStepDown_RemovesLeaderRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	_, term, err := TryBecomeLeader(ctx, db, a.ID, 30)
	require.NoError(t, err)

	require.NoError(t, StepDown(ctx, db, a.ID, term))

	leader, err := GetLeader(ctx, db)
	require.NoError(t, err)
	require.Nil(t, leader)
}

func TestStepDown_StaleTermIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	_, term, err := TryBecomeLeader(ctx, db, a.ID, 30)
	require.NoError(t, err)

	require.NoError(t, StepDown(ctx, db, a.ID, term+99))

	leader, err := GetLeader(ctx, db)
	require.NoError(t, err)
	require.NotNil(t, leader)
}

// N goroutines race for an empty leader row; exactly one wins term 1,
// every other candidate observes (false, 0).
func TestTryBecomeLeader_ConcurrentElectionSingleWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const candidates = 8
	agents := make([]*models.Agent, candidates)
	for i := range agents {
		agents[i] = mustJoin(t, db, fmt.Sprintf("candidate-%d", i))
	}

	var wg sync.WaitGroup
	held := make([]bool, candidates)
	terms := make([]int64, candidates)
	errs := make([]error, candidates)
	for i := 0; i < candidates; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			held[i], terms[i], errs[i] = TryBecomeLeader(ctx, db, agents[i].ID, 30)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < candidates; i++ {
		require.NoError(t, errs[i])
		if held[i] {
			winners++
			require.Equal(t, int64(1), terms[i])
		} else {
			require.Equal(t, int64(0), terms[i])
		}
	}
	require.Equal(t, 1, winners)

	leader, err := GetLeader(ctx, db)
	require.NoError(t, err)
	require.NotNil(t, leader)
	require.Equal(t, int64(1), leader.Term)
}
