package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aqua-kernel/aqua/internal/app"
	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", s)
	}
	return v, nil
}

// printedError wraps an error that has already been rendered to stdout as a
// JSON response, so Execute's top-level handler does not log it again.
type printedError struct {
	err error
}

func (e printedError) Error() string { return "error already printed" }
func (e printedError) Unwrap() error { return e.err }

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("command error", "error", err.Error())
	if printErr := output.PrintError(err); printErr != nil {
		slog.Error("failed to print error response", "error", printErr.Error())
	}
	return printedError{err: err}
}

// openDB requires an initialized project (.aqua present) and opens the
// store at its resolved db path.
func openDB() (*sql.DB, string, func(), error) {
	aquaDir, err := app.RequireAquaDir()
	if err != nil {
		return nil, "", nil, models.NewKernelError(models.KindNotInitialized, err.Error(), nil)
	}
	dbPath := app.DBPath(aquaDir)
	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, "", nil, err
	}
	return db, aquaDir, func() { _ = store.CloseDB(db) }, nil
}

// withDB opens the store and runs fn, for operations that do not require a
// resolved agent identity (whoami, join, doctor).
func withDB(fn func(ctx context.Context, db *sql.DB, aquaDir string) error) error {
	db, aquaDir, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	if err := fn(context.Background(), db, aquaDir); err != nil {
		return cmdErr(err)
	}
	return nil
}

// withAgent opens the store, resolves "who am I" from the session,
// verifies the resolved agent exists and is not dead, stamps a
// heartbeat, opportunistically runs the recovery sweep, and then runs fn
// inside that context.
func withAgent(fn func(ctx context.Context, db *sql.DB, agentID, aquaDir string) error) error {
	return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
		agentID, _, ok, err := app.ResolveAgentID(aquaDir)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewKernelError(models.KindNotJoined, "no agent identity resolved for this session; run 'aqua join' first", nil)
		}

		// An id from AQUA_AGENT_ID or a stale session file only counts if
		// it names a live agent; a row swept dead must rejoin.
		agent, err := store.GetAgent(ctx, db, agentID)
		if err != nil {
			var nf *store.NotFoundError
			if errors.As(err, &nf) {
				return models.NewKernelError(models.KindNotJoined,
					fmt.Sprintf("resolved agent %s does not exist; run 'aqua join' first", agentID),
					map[string]string{"agent_id": agentID})
			}
			return err
		}
		if agent.IsDead() {
			return models.NewKernelError(models.KindNotJoined,
				fmt.Sprintf("agent %s has been marked dead; run 'aqua join' to rejoin", agentID),
				map[string]string{"agent_id": agentID})
		}

		if err := store.HeartbeatAgent(ctx, db, agentID); err != nil {
			return err
		}

		if err := maybeRunRecoverySweep(ctx, db, agentID, aquaDir); err != nil {
			return err
		}

		return fn(ctx, db, agentID, aquaDir)
	})
}

// maybeRunRecoverySweep runs the recovery sweep if the caller is leader, or
// opportunistically if enough wall time has elapsed since the last sweep
// event.
func maybeRunRecoverySweep(ctx context.Context, db *sql.DB, agentID, aquaDir string) error {
	eff := app.Effective(aquaDir)
	deadThreshold := time.Duration(eff.AgentDeadThresholdSeconds) * time.Second
	claimTimeout := time.Duration(eff.TaskClaimTimeoutSeconds) * time.Second
	heartbeatInterval := time.Duration(eff.HeartbeatIntervalSeconds) * time.Second

	isLeader, _, err := store.IsLeader(ctx, db, agentID)
	if err != nil {
		return err
	}

	var shouldRun bool
	if isLeader {
		shouldRun, err = store.ShouldRunLeaderSweep(ctx, db, heartbeatInterval)
	} else {
		shouldRun, err = store.ShouldRunOpportunisticSweep(ctx, db, deadThreshold)
	}
	if err != nil {
		return err
	}
	if !shouldRun {
		return nil
	}

	_, err = store.RunRecoverySweep(ctx, db, deadThreshold, claimTimeout)
	return err
}
