package commands

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/models"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

// doctorReport is the shape printed by both `aqua doctor` and `aqua status`.
type doctorReport struct {
	SchemaVersion   int64         `json:"schema_version"`
	LatestVersion   int64         `json:"latest_migration_version"`
	Leader          *models.Leader `json:"leader"`
	AgentsActive    int           `json:"agents_active"`
	AgentsIdle      int           `json:"agents_idle"`
	AgentsDead      int           `json:"agents_dead"`
	TasksPending    int           `json:"tasks_pending"`
	TasksClaimed    int           `json:"tasks_claimed"`
	TasksDone       int           `json:"tasks_done"`
	TasksFailed     int           `json:"tasks_failed"`
	TasksAbandoned  int           `json:"tasks_abandoned"`
	LocksHeld       int           `json:"locks_held"`
}

func NewDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report schema, leader, agent liveness, and task/lock counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				report, err := buildDoctorReport(ctx, db)
				if err != nil {
					return err
				}
				return output.PrintSuccess(report)
			})
		},
	}
}

func NewStatusCmd() *cobra.Command {
	cmd := NewDoctorCmd()
	cmd.Use = "status"
	cmd.Short = "Alias for doctor"
	return cmd
}

func buildDoctorReport(ctx context.Context, db *sql.DB) (*doctorReport, error) {
	current, latest, err := store.SchemaVersion(db)
	if err != nil {
		return nil, err
	}

	leader, err := store.GetLeader(ctx, db)
	if err != nil {
		return nil, err
	}

	agents, err := store.ListAgents(ctx, db)
	if err != nil {
		return nil, err
	}

	report := &doctorReport{SchemaVersion: current, LatestVersion: latest, Leader: leader}
	for _, a := range agents {
		switch a.Status {
		case models.AgentStatusActive:
			report.AgentsActive++
		case models.AgentStatusIdle:
			report.AgentsIdle++
		case models.AgentStatusDead:
			report.AgentsDead++
		}
	}

	tasks, err := store.ListTasks(ctx, db, store.ListTasksFilter{})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			report.TasksPending++
		case models.TaskStatusClaimed:
			report.TasksClaimed++
		case models.TaskStatusDone:
			report.TasksDone++
		case models.TaskStatusFailed:
			report.TasksFailed++
		case models.TaskStatusAbandoned:
			report.TasksAbandoned++
		}
	}

	locks, err := store.ListLocks(ctx, db)
	if err != nil {
		return nil, err
	}
	report.LocksHeld = len(locks)

	return report, nil
}
