package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "data", "taskpilot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustProject(t *testing.T, s *Store, name string) *Project {
	t.Helper()
	v, err := s.Apply(context.Background(), CreateProject{Name: name})
	require.NoError(t, err)
	return v.(*Project)
}

func mustTask(t *testing.T, s *Store, projectID, title string, status TaskStatus) *Task {
	t.Helper()
	v, err := s.Apply(context.Background(), CreateTask{ProjectID: projectID, Title: title, Status: status})
	require.NoError(t, err)
	return v.(*Task)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Apply(ctx, CreateProject{Name: "  Launch  ", Description: "Q3"})
	require.NoError(t, err)
	p := v.(*Project)
	assert.Len(t, p.ID, 21)
	assert.Equal(t, "Launch", p.Name)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q3", got.Description)
	assert.Equal(t, &TaskCounts{}, got.TaskCounts)

	name := "Relaunch"
	v, err = s.Apply(ctx, UpdateProject{ID: p.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Relaunch", v.(*Project).Name)
	assert.Equal(t, "Q3", v.(*Project).Description)

	mustProject(t, s, "Second")
	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Relaunch", projects[0].Name)

	_, err = s.Apply(ctx, CreateProject{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Apply(ctx, UpdateProject{ID: "missing", Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustProject(t, s, "Doomed")
	task := mustTask(t, s, p.ID, "orphan", "")

	v, err := s.Apply(ctx, DeleteProject{ID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, "Doomed", v.(*Project).Name)

	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Apply(ctx, DeleteProject{ID: p.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "Board")

	a := mustTask(t, s, p.ID, "A", "")
	b := mustTask(t, s, p.ID, "B", StatusTodo)
	c := mustTask(t, s, p.ID, "C", StatusDone)
	assert.Equal(t, StatusTodo, a.Status)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, 1, b.Position)
	assert.Equal(t, 0, c.Position)

	v, err := s.Apply(ctx, MoveTask{ID: a.ID, Status: StatusDone})
	require.NoError(t, err)
	moved := v.(*Task)
	assert.Equal(t, StatusDone, moved.Status)
	assert.Equal(t, 1, moved.Position)

	title := "B2"
	v, err = s.Apply(ctx, UpdateTask{ID: b.ID, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "B2", v.(*Task).Title)
	assert.Equal(t, StatusTodo, v.(*Task).Status)

	tasks, err := s.ListTasks(ctx, TaskFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"B2", "C", "A"}, []string{tasks[0].Title, tasks[1].Title, tasks[2].Title})

	done, err := s.ListTasks(ctx, TaskFilter{Status: StatusDone})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, &TaskCounts{Todo: 1, Done: 2}, got.TaskCounts)

	v, err = s.Apply(ctx, DeleteTask{ID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, "C", v.(*Task).Title)
	_, err = s.GetTask(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "Board")
	task := mustTask(t, s, p.ID, "A", "")

	_, err := s.Apply(ctx, CreateTask{ProjectID: "missing", Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Apply(ctx, CreateTask{ProjectID: p.ID, Title: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Apply(ctx, CreateTask{ProjectID: p.ID, Title: "x", Status: "blocked"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Apply(ctx, MoveTask{ID: task.ID, Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Apply(ctx, MoveTask{ID: "missing", Status: StatusDone})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ListTasks(ctx, TaskFilter{Status: "nope"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Apply(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "Board")

	empty := ""
	_, err := s.Apply(ctx, UpdateProject{ID: p.ID, Name: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Board", got.Name)
}
