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

func NewTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the priority task queue",
	}
	cmd.AddCommand(
		newTaskAddCmd(),
		newTaskClaimCmd(),
		newTaskProgressCmd(),
		newTaskDoneCmd(),
		newTaskFailCmd(),
		newTaskListCmd(),
		newTaskShowCmd(),
		newTaskSerializeCmd(),
	)
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		description string
		priority    int
		tags        []string
		contextJSON string
		maxRetries  int
		after       string
		parentIDs   []string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task, optionally depending on other tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, aquaDir string) error {
				parents := append([]string{}, parentIDs...)
				if after != "" {
					parent, err := store.FindMostRecentTaskByTitle(ctx, db, after)
					if err != nil {
						return err
					}
					parents = append(parents, parent.ID)
				}

				eff := app.Effective(aquaDir)
				if !cmd.Flags().Changed("priority") {
					priority = eff.DefaultPriority
				}
				if !cmd.Flags().Changed("max-retries") {
					maxRetries = eff.MaxRetries
				}

				in := store.AddTaskInput{
					Title:       args[0],
					Description: description,
					Priority:    priority,
					CreatedBy:   agentID,
					Tags:        tags,
					ContextJSON: contextJSON,
					MaxRetries:  maxRetries,
					ParentIDs:   parents,
				}

				task, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "task.add",
					func(tx *sql.Tx) (*models.Task, error) { return store.AddTaskTx(ctx, tx, in) })
				if err != nil {
					return err
				}
				return output.PrintSuccess(task)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().IntVarP(&priority, "priority", "p", app.DefaultPriorityValue, "Priority 1-10, higher claims first")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable); matched against role synonyms at claim time")
	cmd.Flags().StringVar(&contextJSON, "context", "", "Free-form context as a JSON object")
	cmd.Flags().IntVar(&maxRetries, "max-retries", app.DefaultMaxRetries, "Retry ceiling before a task stays abandoned")
	cmd.Flags().StringVar(&after, "after", "", "Fuzzy title match: depend on the most recent task matching this substring")
	cmd.Flags().StringSliceVar(&parentIDs, "depends-on", nil, "Parent task id this task depends on (repeatable)")
	return cmd
}

func newTaskClaimCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Atomically claim the next claimable task, or a specific one with --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				task, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "task.claim",
					func(tx *sql.Tx) (*models.Task, error) { return store.ClaimTaskTx(ctx, tx, agentID, taskID) })
				if err != nil {
					return err
				}
				return output.PrintSuccess(task)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "id", "", "Claim this specific task id instead of letting the scheduler pick")
	return cmd
}

func newTaskProgressCmd() *cobra.Command {
	var contextJSON string
	var expectedVersion int
	cmd := &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Update a claimed task's context (bumps its version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				if err := store.ProgressTask(ctx, db, agentID, args[0], contextJSON, expectedVersion); err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"task_id": args[0], "status": "progress recorded"})
			})
		},
	}
	cmd.Flags().StringVar(&contextJSON, "context", "{}", "Updated context as a JSON object")
	cmd.Flags().IntVar(&expectedVersion, "expected-version", 0, "Fail with StaleVersion unless the task's current version matches (0 skips the check)")
	return cmd
}

func newTaskDoneCmd() *cobra.Command {
	var result string
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Mark a claimed task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				_, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "task.done",
					func(tx *sql.Tx) (struct{}, error) {
						return struct{}{}, store.DoneTaskTx(ctx, tx, agentID, args[0], result)
					})
				if err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"task_id": args[0], "status": "done"})
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "Result summary")
	return cmd
}

func newTaskFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Mark a claimed task failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				_, _, err := store.RunIdempotent(ctx, db, agentID, requireRequestID(cmd), "task.fail",
					func(tx *sql.Tx) (struct{}, error) {
						return struct{}{}, store.FailTaskTx(ctx, tx, agentID, args[0], reason)
					})
				if err != nil {
					return err
				}
				return output.PrintSuccess(map[string]string{"task_id": args[0], "status": "failed"})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var status string
	var tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status or tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				tasks, err := store.ListTasks(ctx, db, store.ListTasksFilter{Status: models.TaskStatus(status), Tag: tag})
				if err != nil {
					return err
				}
				return output.PrintSuccess(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending|claimed|done|failed|abandoned")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task, including its dependency list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *sql.DB, aquaDir string) error {
				task, err := store.GetTask(ctx, db, args[0])
				if err != nil {
					return err
				}
				return output.PrintSuccess(task)
			})
		},
	}
}

func newTaskSerializeCmd() *cobra.Command {
	var stride int
	cmd := &cobra.Command{
		Use:   "serialize",
		Short: "Thread pending tasks into a linear chain with interleaved checkpoint tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(func(ctx context.Context, db *sql.DB, agentID, _ string) error {
				inserted, err := store.SerializeCheckpoints(ctx, db, agentID, stride)
				if err != nil {
					return err
				}
				return output.PrintSuccess(map[string]any{"checkpoints_inserted": inserted, "count": len(inserted)})
			})
		},
	}
	cmd.Flags().IntVar(&stride, "stride", 1, "Insert a checkpoint every N-th task instead of between every pair")
	return cmd
}
