package commands

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

func NewEventsCmd() *cobra.Command {
	var since int64
	var eventType string
	var agent string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the append-only event log",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "List events after --since, optionally filtered by --type and --agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				events, err := store.TailEvents(ctx, db, store.EventFilter{
					SinceID: since,
					Type:    eventType,
					AgentID: agent,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				return output.PrintSuccess(events)
			})
		},
	}
	tail.Flags().Int64Var(&since, "since", 0, "Only show events with id greater than this")
	tail.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	tail.Flags().StringVar(&agent, "agent", "", "Filter by agent id")
	tail.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to return")
	cmd.AddCommand(tail)
	return cmd
}
