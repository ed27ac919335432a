package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aqua-kernel/aqua/internal/models"
)

// AddTaskInput bundles the fields accepted by AddTask.
type AddTaskInput struct {
	Title       string
	Description string
	Priority    int
	CreatedBy   string
	Tags        []string
	ContextJSON string
	MaxRetries  int
	ParentIDs   []string // dependency ids this task depends on
}

// AddTask inserts a task and zero or more parent dependency edges in one
// transaction. If any edge would produce a cycle, the
// whole insert fails and no rows are written.
func AddTask(ctx context.Context, db *sql.DB, in AddTaskInput) (*models.Task, error) {
	var task *models.Task
	err := Transact(ctx, db, func(tx *sql.Tx) error {
		var err error
		task, err = AddTaskTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AddTaskTx is the transaction-scoped half of AddTask, reused by
// RunIdempotent callers.
// It performs the same validation and id/timestamp assignment as AddTask.
func AddTaskTx(ctx context.Context, tx *sql.Tx, in AddTaskInput) (*models.Task, error) {
	if in.Priority == 0 {
		in.Priority = 5
	}
	if in.Priority < 1 || in.Priority > 10 {
		return nil, fmt.Errorf("priority must be in [1,10], got %d", in.Priority)
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = 3
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.ContextJSON == "" {
		in.ContextJSON = "{}"
	}

	tagsJSON, err := json.Marshal(in.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	task := &models.Task{
		ID:          NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      models.TaskStatusPending,
		Priority:    in.Priority,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		MaxRetries:  in.MaxRetries,
		Tags:        in.Tags,
		Context:     in.ContextJSON,
		Version:     1,
		DependsOn:   in.ParentIDs,
	}

	if err := insertTaskTx(ctx, tx, task, tagsJSON, in.ParentIDs); err != nil {
		return nil, err
	}
	return task, nil
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, task *models.Task, tagsJSON []byte, parentIDs []string) error {
	_, execErr := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, created_by, created_at, updated_at, retry_count, max_retries, tags, context, version, is_checkpoint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 1, 0)
	`, task.ID, task.Title, task.Description, string(task.Status), task.Priority, nullableStr(task.CreatedBy),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt), task.MaxRetries, string(tagsJSON), task.Context)
	if execErr != nil {
		return fmt.Errorf("insert task: %w", execErr)
	}

	for _, parentID := range parentIDs {
		if err := addTaskDependencyTx(ctx, tx, task.ID, parentID); err != nil {
			return err
		}
	}

	return appendEventTx(ctx, tx, models.EventKindTaskAdded, task.CreatedBy, task.ID, map[string]any{"title": task.Title, "priority": task.Priority})
}

// addTaskDependencyTx inserts one "task depends on parent" edge, rejecting
// it if it would create a cycle.
func addTaskDependencyTx(ctx context.Context, tx *sql.Tx, taskID, parentID string) error {
	if taskID == parentID {
		return &CycleError{TaskID: taskID, ParentID: parentID}
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, parentID).Scan(&exists); err != nil {
		return fmt.Errorf("verify parent task: %w", err)
	}
	if exists == 0 {
		return &NotFoundError{Entity: "task", ID: parentID}
	}

	if reaches, err := reachesTx(ctx, tx, parentID, taskID); err != nil {
		return err
	} else if reaches {
		return &CycleError{TaskID: taskID, ParentID: parentID}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)
	`, taskID, parentID); err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return appendEventTx(ctx, tx, models.EventKindDependencyAdded, "", taskID, map[string]any{"depends_on": parentID})
}

// reachesTx performs a breadth-first search outward from start following
// "depends_on" edges, returning true if target is reachable, i.e. target
// is already (transitively) a dependency of start. Capped at 1000 nodes to
// bound pathological graphs.
func reachesTx(ctx context.Context, tx *sql.Tx, start, target string) (bool, error) {
	const maxNodes = 1000
	visited := map[string]bool{start: true}
	queue := []string{start}
	examined := 0

	for len(queue) > 0 && examined < maxNodes {
		current := queue[0]
		queue = queue[1:]
		examined++

		if current == target {
			return true, nil
		}

		neighbors, err := queryStringColumn(ctx, tx, `
			SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ?
		`, current)
		if err != nil {
			return false, fmt.Errorf("query deps during cycle check: %w", err)
		}
		for _, n := range neighbors {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// GetTask loads a task by id, including its dependency ids.
func GetTask(ctx context.Context, db *sql.DB, taskID string) (*models.Task, error) {
	var t models.Task
	if err := scanTaskRowGeneric(db.QueryRowContext(ctx, taskSelectColumns+` WHERE id = ?`, taskID), &t); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "task", ID: taskID}
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	deps, err := queryStringColumn(ctx, db, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}
	t.DependsOn = deps
	return &t, nil
}

// ListTasksFilter narrows ListTasks.
type ListTasksFilter struct {
	Status models.TaskStatus // "" = any
	Tag    string            // "" = any
}

// ListTasks returns tasks ordered by priority desc, created_at asc, the
// same ordering the claim candidate query uses.
func ListTasks(ctx context.Context, db *sql.DB, filter ListTasksFilter) ([]*models.Task, error) {
	query := taskSelectColumns
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Task
	for rows.Next() {
		var t models.Task
		if err := scanTaskRowGeneric(rows, &t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if filter.Tag != "" && !t.HasTag(filter.Tag) {
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

const taskSelectColumns = `
	SELECT id, title, description, status, priority, created_by, claimed_by, claim_term,
	       created_at, updated_at, claimed_at, completed_at, result, error,
	       retry_count, max_retries, tags, context, version, is_checkpoint
	FROM tasks`

//nolint:gocyclo // one wide row scan touching every nullable task column
func scanTaskRowGeneric(s rowScanner, t *models.Task) error {
	var createdBy, claimedBy sql.NullString
	var claimTerm sql.NullInt64
	var claimedAt, completedAt sql.NullString
	var status, tagsJSON string
	var createdAt, updatedAt string
	var isCheckpoint int

	if err := s.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority, &createdBy, &claimedBy, &claimTerm,
		&createdAt, &updatedAt, &claimedAt, &completedAt, &t.Result, &t.Error,
		&t.RetryCount, &t.MaxRetries, &tagsJSON, &t.Context, &t.Version, &isCheckpoint); err != nil {
		return err
	}
	t.Status = models.TaskStatus(status)
	t.IsCheckpoint = isCheckpoint != 0
	if createdBy.Valid {
		t.CreatedBy = createdBy.String
	}
	if claimedBy.Valid {
		t.ClaimedBy = claimedBy.String
	}
	if claimTerm.Valid {
		t.ClaimTerm = claimTerm.Int64
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	if claimedAt.Valid {
		ts, perr := parseTime(claimedAt.String)
		if perr != nil {
			return fmt.Errorf("parse claimed_at: %w", perr)
		}
		t.ClaimedAt = &ts
	}
	if completedAt.Valid {
		ts, perr := parseTime(completedAt.String)
		if perr != nil {
			return fmt.Errorf("parse completed_at: %w", perr)
		}
		t.CompletedAt = &ts
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*models.Task, error) {
	var t models.Task
	if err := scanTaskRowGeneric(tx.QueryRowContext(ctx, taskSelectColumns+` WHERE id = ?`, taskID), &t); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "task", ID: taskID}
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// FindMostRecentTaskByTitle supports `--after <title>` fuzzy parent
// resolution: the most recently created task whose title contains the
// given substring wins.
func FindMostRecentTaskByTitle(ctx context.Context, db *sql.DB, titleSubstring string) (*models.Task, error) {
	var t models.Task
	err := scanTaskRowGeneric(db.QueryRowContext(ctx, taskSelectColumns+`
		WHERE title LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT 1
	`, titleSubstring), &t)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "task matching title", ID: titleSubstring}
	}
	if err != nil {
		return nil, fmt.Errorf("find task by title: %w", err)
	}
	return &t, nil
}
