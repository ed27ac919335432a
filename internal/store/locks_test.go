package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireLock_SecondAttemptSeesOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	_, err := AcquireLock(ctx, db, "/repo/main.go", a.ID)
	require.NoError(t, err)

	_, err = AcquireLock(ctx, db, "/repo/main.go", b.ID)
	require.Error(t, err)
	var heldErr *LockHeldError
	require.ErrorAs(t, err, &heldErr)
	require.Equal(t, a.ID, heldErr.CurrentOwner)
}

func TestReleaseLock_OnlyOwnerMayRelease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	_, err := AcquireLock(ctx, db, "/repo/main.go", a.ID)
	require.NoError(t, err)

	err = ReleaseLock(ctx, db, "/repo/main.go", b.ID)
	require.Error(t, err)

	require.NoError(t, ReleaseLock(ctx, db, "/repo/main.go", a.ID))

	locks, err := ListLocks(ctx, db)
	require.NoError(t, err)
	require.Empty(t, locks)
}

func TestAcquireLock_ReacquireAfterRelease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")

	_, err := AcquireLock(ctx, db, "/repo/main.go", a.ID)
	require.NoError(t, err)
	require.NoError(t, ReleaseLock(ctx, db, "/repo/main.go", a.ID))

	_, err = AcquireLock(ctx, db, "/repo/main.go", a.ID)
	require.NoError(t, err)
}
