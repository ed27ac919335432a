package commands

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/app"
	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

func NewLeaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leader",
		Short: "Leader election over a lease with fencing terms",
	}
	cmd.AddCommand(newLeaderTryCmd(), newLeaderStatusCmd(), newLeaderStepdownCmd())
	return cmd
}

func newLeaderTryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "try",
		Short: "Attempt to become leader, renewing the lease if already held",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, aquaDir string) error {
				eff := app.Effective(aquaDir)
				held, term, err := store.TryBecomeLeader(ctx, db, agentID, eff.LeaderLeaseSeconds)
				if err != nil {
					return err
				}
				return output.PrintSuccess(map[string]any{"held": held, "term": term})
			})
		},
	}
}

func newLeaderStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current leader, term, and lease expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				leader, err := store.GetLeader(ctx, db)
				if err != nil {
					return err
				}
				if leader == nil {
					return output.PrintSuccess(map[string]any{"leader": nil})
				}
				return output.PrintSuccess(leader)
			})
		},
	}
}

func newLeaderStepdownCmd() *cobra.Command {
	var term int64
	cmd := &cobra.Command{
		Use:   "stepdown",
		Short: "Voluntarily release leadership for the given term",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				if term == 0 {
					_, t, err := store.IsLeader(ctx, db, agentID)
					if err != nil {
						return err
					}
					term = t
				}
				if term == 0 {
					return models.NewKernelError(models.KindNotFound, "not currently leader", nil)
				}
				if err := store.StepDown(ctx, db, agentID, term); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]any{"term": term, "status": "stepped down"})
			})
		},
	}
	cmd.Flags().Int64Var(&term, "term", 0, "Term to step down from (defaults to your current term)")
	return cmd
}
