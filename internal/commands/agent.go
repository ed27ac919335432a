package commands

import (
	"context"
	"database/sql"
	"os"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/app"
	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

// NewJoinCmd registers this session as a new agent in the quorum.
func NewJoinCmd() *cobra.Command {
	var (
		kind  string
		role  string
		caps  []string
		meta  string
		asPID bool
	)

	cmd := &cobra.Command{
		Use:   "join <name>",
		Short: "Register this session as a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				var pid *int
				if asPID {
					p := os.Getpid()
					pid = &p
				}

				agent, err := store.JoinAgent(ctx, db, args[0], models.AgentKind(kind), pid, role, caps, meta, app.SessionKey())
				if err != nil {
					return err
				}

				if err := app.WriteSessionFile(aquaDir, app.SessionKey(), agent.ID); err != nil {
					return err
				}

				return output.PrintSuccess(agent)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.AgentKindGeneric), "Agent kind: claude|codex|gemini|generic")
	cmd.Flags().StringVar(&role, "role", "", "Role label for claim preference (reviewer, frontend, backend, testing, devops)")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "Capability label (repeatable)")
	cmd.Flags().StringVar(&meta, "metadata", "", "Free-form metadata as a JSON object")
	cmd.Flags().BoolVar(&asPID, "pid", true, "Record this process's OS pid on the agent row")
	return cmd
}

// NewLeaveCmd removes the calling session's agent from the quorum.
func NewLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the quorum: release locks, return the claimed task to pending, remove the agent row",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, aquaDir string) error {
				if err := store.LeaveAgent(ctx, db, agentID); err != nil {
					return err
				}
				if err := app.DeleteSessionFile(aquaDir, app.SessionKey()); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"left": agentID})
			})
		},
	}
}

// NewWhoamiCmd reports the agent identity this session currently resolves
// to, without performing a heartbeat or recovery sweep.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the agent identity resolved for this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				agentID, sessionKey, ok, err := app.ResolveAgentID(aquaDir)
				if err != nil {
					return err
				}
				if !ok {
					return models.NewKernelError(models.KindNotJoined, "no agent identity resolved for this session", map[string]string{"session_key": sessionKey})
				}
				agent, err := store.GetAgent(ctx, db, agentID)
				if err != nil {
					return err
				}
				return output.PrintSuccess(agent)
			})
		},
	}
}

// NewAgentsCmd lists all registered agents.
func NewAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "agents",
		Aliases: []string{"ps"},
		Short:   "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				agents, err := store.ListAgents(ctx, db)
				if err != nil {
					return err
				}
				return output.PrintSuccess(agents)
			})
		},
	}
}
