package commands

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

func NewLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Exclusive file path locks",
	}
	cmd.AddCommand(newLockAcquireCmd(), newLockReleaseCmd(), newLockListCmd())
	return cmd
}

func newLockAcquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire <path>",
		Short: "Acquire an exclusive lock on a file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				lock, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "lock.acquire",
					func(tx *sql.Tx) (*models.FileLock, error) { return store.AcquireLockTx(ctx, tx, args[0], agentID) })
				if err != nil {
					return err
				}
				return output.PrintSuccess(lock)
			})
		},
	}
}

func newLockReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <path>",
		Short: "Release a lock you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				if err := store.ReleaseLock(ctx, db, args[0], agentID); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"path": args[0], "status": "released"})
			})
		},
	}
}

func newLockListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				locks, err := store.ListLocks(ctx, db)
				if err != nil {
					return err
				}
				return output.PrintSuccess(locks)
			})
		},
	}
}
