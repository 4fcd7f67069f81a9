// Package tasks is the sqlite-backed task store and its HTTP surface. Tasks
// are the work items workflows execute; task_runs link them to workflow
// runs.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

var validStatuses = map[string]struct{}{
	StatusOpen:       {},
	StatusInProgress: {},
	StatusDone:       {},
	StatusCancelled:  {},
}

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

// Task is one work item.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// TaskRun links a task to a workflow run.
type TaskRun struct {
	RunID      string `json:"runId"`
	TaskID     string `json:"taskId"`
	WorkflowID string `json:"workflowId"`
	CreatedAt  int64  `json:"createdAt"`
}

// Store persists tasks in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new open task.
func (s *Store) Create(ctx context.Context, title, description string) (Task, error) {
	if title == "" {
		return Task{}, fmt.Errorf("create task: title is required")
	}
	now := time.Now().UnixMilli()
	task := Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Status, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, created_at, updated_at FROM tasks WHERE id = ?`, id).
		Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, title, description, status, created_at, updated_at FROM tasks
			 WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, title, description, status, created_at, updated_at FROM tasks
			 ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Update applies the non-nil fields and returns the updated task.
func (s *Store) Update(ctx context.Context, id string, title, description, status *string) (Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}

	if title != nil {
		if *title == "" {
			return Task{}, fmt.Errorf("update task: title cannot be empty")
		}
		task.Title = *title
	}
	if description != nil {
		task.Description = *description
	}
	if status != nil {
		if _, ok := validStatuses[*status]; !ok {
			return Task{}, fmt.Errorf("update task: invalid status %q", *status)
		}
		task.Status = *status
	}
	task.UpdatedAt = time.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, updated_at = ? WHERE id = ?`,
		task.Title, task.Description, task.Status, task.UpdatedAt, task.ID)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return task, nil
}

// Delete removes a task and its run links.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkRun records that a workflow run executes a task.
func (s *Store) LinkRun(ctx context.Context, taskID, runID, workflowID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (run_id, task_id, workflow_id, created_at) VALUES (?, ?, ?, ?)`,
		runID, taskID, workflowID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("link run: %w", err)
	}
	return nil
}

// Runs returns the workflow runs linked to a task, newest first.
func (s *Store) Runs(ctx context.Context, taskID string) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task_id, workflow_id, created_at FROM task_runs
		 WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task runs: %w", err)
	}
	defer rows.Close()

	runs := make([]TaskRun, 0)
	for rows.Next() {
		var run TaskRun
		if err := rows.Scan(&run.RunID, &run.TaskID, &run.WorkflowID, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("task runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
