package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Mutation is a single write applied atomically by Store.Apply.
type Mutation interface {
	Kind() string
	apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error)
}

// CreateProject creates a project and returns *Project.
type CreateProject struct {
	Name        string
	Description string
}

// UpdateProject changes the non-nil fields and returns *Project.
type UpdateProject struct {
	ID          string
	Name        *string
	Description *string
}

// DeleteProject removes a project and its tasks and returns the deleted *Project.
type DeleteProject struct {
	ID string
}

// CreateTask adds a task to the end of its status column and returns *Task.
// An empty Status means todo.
type CreateTask struct {
	ProjectID   string
	Title       string
	Description string
	Status      TaskStatus
}

// UpdateTask changes the non-nil fields and returns *Task. A status change
// moves the task to the end of the new column.
type UpdateTask struct {
	ID          string
	Title       *string
	Description *string
	Status      *TaskStatus
}

// MoveTask moves a task to the end of another status column and returns *Task.
type MoveTask struct {
	ID     string
	Status TaskStatus
}

// DeleteTask removes a task and returns the deleted *Task.
type DeleteTask struct {
	ID string
}

func (CreateProject) Kind() string { return "create_project" }
func (UpdateProject) Kind() string { return "update_project" }
func (DeleteProject) Kind() string { return "delete_project" }
func (CreateTask) Kind() string    { return "create_task" }
func (UpdateTask) Kind() string    { return "update_task" }
func (MoveTask) Kind() string      { return "move_task" }
func (DeleteTask) Kind() string    { return "delete_task" }

func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return value, nil
}

func (m CreateProject) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	name, err := requireText("name", m.Name)
	if err != nil {
		return nil, err
	}

	p := &Project{
		ID:          newID(),
		Name:        name,
		Description: m.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return p, nil
}

func (m UpdateProject) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	p, err := getProject(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}

	if m.Name != nil {
		if p.Name, err = requireText("name", *m.Name); err != nil {
			return nil, err
		}
	}
	if m.Description != nil {
		p.Description = *m.Description
	}
	p.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return p, nil
}

func (m DeleteProject) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	p, err := getProject(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, m.ID); err != nil {
		return nil, fmt.Errorf("failed to delete project: %w", err)
	}
	return p, nil
}

func nextPosition(ctx context.Context, tx *sql.Tx, projectID string, status TaskStatus) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE project_id = ? AND status = ?`,
		projectID, status).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to compute task position: %w", err)
	}
	return pos, nil
}

func (m CreateTask) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	title, err := requireText("title", m.Title)
	if err != nil {
		return nil, err
	}

	status := m.Status
	if status == "" {
		status = StatusTodo
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	if _, err := getProject(ctx, tx, m.ProjectID); err != nil {
		return nil, err
	}

	pos, err := nextPosition(ctx, tx, m.ProjectID, status)
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:          newID(),
		ProjectID:   m.ProjectID,
		Title:       title,
		Description: m.Description,
		Status:      status,
		Position:    pos,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Position, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return t, nil
}

func (m UpdateTask) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	t, err := getTask(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}

	if m.Title != nil {
		if t.Title, err = requireText("title", *m.Title); err != nil {
			return nil, err
		}
	}
	if m.Description != nil {
		t.Description = *m.Description
	}
	if m.Status != nil && *m.Status != t.Status {
		if !m.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *m.Status)
		}
		if t.Position, err = nextPosition(ctx, tx, t.ProjectID, *m.Status); err != nil {
			return nil, err
		}
		t.Status = *m.Status
	}
	t.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, position = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Position, t.UpdatedAt, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return t, nil
}

func (m MoveTask) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	if !m.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, m.Status)
	}
	status := m.Status
	return UpdateTask{ID: m.ID, Status: &status}.apply(ctx, tx, now)
}

func (m DeleteTask) apply(ctx context.Context, tx *sql.Tx, now time.Time) (any, error) {
	t, err := getTask(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, m.ID); err != nil {
		return nil, fmt.Errorf("failed to delete task: %w", err)
	}
	return t, nil
}
