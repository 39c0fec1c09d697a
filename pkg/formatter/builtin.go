package formatter

import (
	"fmt"
	"strings"

	"github.com/harun/taskpilot/pkg/refmarker"
	"github.com/harun/taskpilot/pkg/toolexecutor"
	"github.com/tidwall/gjson"
)

// ProjectFormatter renders the project tools.
type ProjectFormatter struct{}

var projectTools = ForTools("create_project", "update_project", "get_project", "list_projects", "delete_project")

func (ProjectFormatter) CanFormat(toolName string) bool {
	return projectTools(toolName)
}

func (ProjectFormatter) Format(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string {
	payload := gjson.ParseBytes(result.Result)

	switch call.Name {
	case "create_project":
		return withDescription("Created project "+projectRef(payload), payload)
	case "update_project":
		return "Updated project " + projectRef(payload)
	case "get_project":
		var b strings.Builder
		b.WriteString(withDescription("Project "+projectRef(payload), payload))
		if counts := payload.Get("task_counts"); counts.Exists() {
			fmt.Fprintf(&b, "\nTasks: %d todo, %d in progress, %d done",
				counts.Get("todo").Int(), counts.Get("in_progress").Int(), counts.Get("done").Int())
		}
		return b.String()
	case "list_projects":
		items := payload.Get("projects").Array()
		if len(items) == 0 {
			return "No projects found."
		}
		lines := make([]string, 0, len(items)+1)
		lines = append(lines, fmt.Sprintf("Found %d %s:", len(items), plural(len(items), "project", "projects")))
		for _, p := range items {
			lines = append(lines, "- "+projectRef(p))
		}
		return strings.Join(lines, "\n")
	case "delete_project":
		return fmt.Sprintf("Deleted project %q.", payload.Get("name").String())
	}

	return Fallback(result, call)
}

// TaskFormatter renders the task tools.
type TaskFormatter struct{}

var taskTools = ForTools("create_task", "update_task", "move_task", "get_task", "list_tasks", "delete_task")

func (TaskFormatter) CanFormat(toolName string) bool {
	return taskTools(toolName)
}

func (TaskFormatter) Format(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string {
	payload := gjson.ParseBytes(result.Result)

	switch call.Name {
	case "create_task":
		return fmt.Sprintf("Created task %s in %s (status: %s)",
			taskRef(payload), projectLink(payload), payload.Get("status").String())
	case "update_task":
		return fmt.Sprintf("Updated task %s (status: %s)", taskRef(payload), payload.Get("status").String())
	case "move_task":
		return fmt.Sprintf("Moved task %s to %s", taskRef(payload), payload.Get("status").String())
	case "get_task":
		var b strings.Builder
		fmt.Fprintf(&b, "Task %s\nStatus: %s\nProject: %s", taskRef(payload), payload.Get("status").String(), projectLink(payload))
		if desc := payload.Get("description").String(); desc != "" {
			b.WriteString("\nDescription: " + desc)
		}
		return b.String()
	case "list_tasks":
		items := payload.Get("tasks").Array()
		if len(items) == 0 {
			return "No tasks found."
		}
		lines := make([]string, 0, len(items)+1)
		lines = append(lines, fmt.Sprintf("Found %d %s:", len(items), plural(len(items), "task", "tasks")))
		for _, task := range items {
			lines = append(lines, fmt.Sprintf("- %s [%s]", taskRef(task), task.Get("status").String()))
		}
		return strings.Join(lines, "\n")
	case "delete_task":
		return fmt.Sprintf("Deleted task %q.", payload.Get("title").String())
	}

	return Fallback(result, call)
}

func projectRef(p gjson.Result) string {
	return refmarker.Build(refmarker.KindProject, p.Get("id").String(), p.Get("name").String())
}

func taskRef(t gjson.Result) string {
	return refmarker.Build(refmarker.KindTask, t.Get("id").String(), t.Get("title").String())
}

func projectLink(t gjson.Result) string {
	return refmarker.Build(refmarker.KindProject, t.Get("project_id").String(), "project")
}

func withDescription(line string, p gjson.Result) string {
	if desc := p.Get("description").String(); desc != "" {
		return line + "\n" + desc
	}
	return line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
