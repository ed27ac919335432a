package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqua-kernel/aqua/internal/models"
)

func TestAppendEvent_Roundtrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	require.NoError(t, AppendEvent(ctx, db, "custom_event", a.ID, "", map[string]any{"k": "v"}))

	events, err := TailEvents(ctx, db, EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, "custom_event", last.Type)
	require.Equal(t, a.ID, last.AgentID)
	require.JSONEq(t, `{"k":"v"}`, string(last.Detail))
}

func TestTailEvents_SinceIDFiltersEarlierEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	before, err := TailEvents(ctx, db, EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, before)
	cutoff := before[len(before)-1].ID

	require.NoError(t, AppendEvent(ctx, db, "marker_event", a.ID, "", nil))

	after, err := TailEvents(ctx, db, EventFilter{SinceID: cutoff})
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "marker_event", after[0].Type)
}

func TestTailEvents_FilterByTypeAndAgent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := mustJoin(t, db, "a")
	b := mustJoin(t, db, "b")

	events, err := TailEvents(ctx, db, EventFilter{Type: string(models.EventKindAgentJoined), AgentID: b.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, b.ID, events[0].AgentID)
	require.NotEqual(t, a.ID, events[0].AgentID)
}

func TestTailEvents_Limit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, AppendEvent(ctx, db, "bulk_event", "", "", nil))
	}

	events, err := TailEvents(ctx, db, EventFilter{Type: "bulk_event", Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
}
