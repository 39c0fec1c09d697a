// Package coretools registers the project and task tools backed by the store.
package coretools

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/taskpilot/pkg/store"
	"github.com/harun/taskpilot/pkg/toolexecutor"
)

// Store is the subset of *store.Store the tools need.
type Store interface {
	Apply(ctx context.Context, m store.Mutation) (any, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
}

var statusEnum = []string{string(store.StatusTodo), string(store.StatusInProgress), string(store.StatusDone)}

// RegisterCoreTools registers every project and task tool on executor.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, st Store) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if st == nil {
		return errors.New("store is required")
	}

	tools := []toolexecutor.ToolDefinition{
		createProjectTool(st),
		updateProjectTool(st),
		getProjectTool(st),
		listProjectsTool(st),
		deleteProjectTool(st),
		createTaskTool(st),
		updateTaskTool(st),
		moveTaskTool(st),
		getTaskTool(st),
		listTasksTool(st),
		deleteTaskTool(st),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func createProjectTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "create_project",
		Description: "Create a new project.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "name", Type: "string", Description: "Project name", Required: true},
			{Name: "description", Type: "string", Description: "Optional project description"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.Apply(ctx, store.CreateProject{
				Name:        stringParam(params, "name"),
				Description: stringParam(params, "description"),
			})
		},
	}
}

func updateProjectTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_project",
		Description: "Rename a project or change its description.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "name", Type: "string", Description: "New project name"},
			{Name: "description", Type: "string", Description: "New project description"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.Apply(ctx, store.UpdateProject{
				ID:          stringParam(params, "project_id"),
				Name:        optionalString(params, "name"),
				Description: optionalString(params, "description"),
			})
		},
	}
}

func getProjectTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_project",
		Description: "Get a project with its task counts.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.GetProject(ctx, stringParam(params, "project_id"))
		},
	}
}

func listProjectsTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_projects",
		Description: "List all projects.",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			projects, err := st.ListProjects(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"projects": projects, "count": len(projects)}, nil
		},
	}
}

func deleteProjectTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "delete_project",
		Description: "Delete a project and all of its tasks.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			v, err := st.Apply(ctx, store.DeleteProject{ID: stringParam(params, "project_id")})
			if err != nil {
				return nil, err
			}
			p := v.(*store.Project)
			return map[string]any{"id": p.ID, "name": p.Name, "deleted": true}, nil
		},
	}
}

func createTaskTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "create_task",
		Description: "Create a task in a project.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "title", Type: "string", Description: "Task title", Required: true},
			{Name: "description", Type: "string", Description: "Optional task description"},
			{Name: "status", Type: "string", Description: "Initial status (default todo)", Enum: statusEnum},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.Apply(ctx, store.CreateTask{
				ProjectID:   stringParam(params, "project_id"),
				Title:       stringParam(params, "title"),
				Description: stringParam(params, "description"),
				Status:      store.TaskStatus(stringParam(params, "status")),
			})
		},
	}
}

func updateTaskTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_task",
		Description: "Change a task's title, description or status.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "task_id", Type: "string", Description: "Task ID", Required: true},
			{Name: "title", Type: "string", Description: "New title"},
			{Name: "description", Type: "string", Description: "New description"},
			{Name: "status", Type: "string", Description: "New status", Enum: statusEnum},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			m := store.UpdateTask{
				ID:          stringParam(params, "task_id"),
				Title:       optionalString(params, "title"),
				Description: optionalString(params, "description"),
			}
			if s := optionalString(params, "status"); s != nil {
				status := store.TaskStatus(*s)
				m.Status = &status
			}
			return st.Apply(ctx, m)
		},
	}
}

func moveTaskTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "move_task",
		Description: "Move a task to another status column.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "task_id", Type: "string", Description: "Task ID", Required: true},
			{Name: "status", Type: "string", Description: "Target status", Required: true, Enum: statusEnum},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.Apply(ctx, store.MoveTask{
				ID:     stringParam(params, "task_id"),
				Status: store.TaskStatus(stringParam(params, "status")),
			})
		},
	}
}

func getTaskTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_task",
		Description: "Get a task.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "task_id", Type: "string", Description: "Task ID", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return st.GetTask(ctx, stringParam(params, "task_id"))
		},
	}
}

func listTasksTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by project and status.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "project_id", Type: "string", Description: "Only tasks in this project"},
			{Name: "status", Type: "string", Description: "Only tasks with this status", Enum: statusEnum},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			tasks, err := st.ListTasks(ctx, store.TaskFilter{
				ProjectID: stringParam(params, "project_id"),
				Status:    store.TaskStatus(stringParam(params, "status")),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"tasks": tasks, "count": len(tasks)}, nil
		},
	}
}

func deleteTaskTool(st Store) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "delete_task",
		Description: "Delete a task.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "task_id", Type: "string", Description: "Task ID", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			v, err := st.Apply(ctx, store.DeleteTask{ID: stringParam(params, "task_id")})
			if err != nil {
				return nil, err
			}
			t := v.(*store.Task)
			return map[string]any{"id": t.ID, "title": t.Title, "project_id": t.ProjectID, "deleted": true}, nil
		},
	}
}

func stringParam(params map[string]any, name string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return ""
}

func optionalString(params map[string]any, name string) *string {
	v, ok := params[name].(string)
	if !ok {
		return nil
	}
	return &v
}
