package formatter

import (
	"errors"
	"strings"
	"testing"

	"github.com/harun/taskpilot/pkg/refmarker"
	"github.com/harun/taskpilot/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(payload string) toolexecutor.ToolExecutionResult {
	return toolexecutor.ToolExecutionResult{CallID: "c1", Success: true, Result: []byte(payload)}
}

func call(name string) toolexecutor.ToolCall {
	return toolexecutor.ToolCall{ID: "c1", Name: name}
}

func TestFormat_ErrorFirst(t *testing.T) {
	r := Default()
	r.Prepend(FormatterFunc{
		Match:  func(string) bool { return true },
		Render: func(toolexecutor.ToolExecutionResult, toolexecutor.ToolCall) string { return "should not be used" },
	})

	for _, name := range []string{"create_project", "move_task", "unregistered"} {
		result := toolexecutor.ToolExecutionResult{Success: false, Error: "Project not found"}
		assert.Equal(t, "Error: Project not found", r.Format(result, call(name)))
	}

	assert.Equal(t, "Error: Unknown error occurred", r.Format(toolexecutor.ToolExecutionResult{}, call("x")))
}

func TestFormat_Fallback(t *testing.T) {
	r := Default()

	out := r.Format(ok(`{"temperature":21,"unit":"C"}`), call("get_weather"))
	require.True(t, strings.HasPrefix(out, "Tool get_weather executed successfully.\n\n"))
	assert.Contains(t, out, `"temperature": 21`)
	assert.Contains(t, out, `"unit": "C"`)

	assert.Equal(t, "Tool ping executed successfully.", r.Format(ok(""), call("ping")))
}

func TestFormatError(t *testing.T) {
	assert.Equal(t,
		"Error executing tool create_task: connection reset",
		FormatError(errors.New("connection reset"), call("create_task")))
	assert.Equal(t,
		"Error executing tool x: Unknown error occurred",
		Default().FormatError(nil, call("x")))
}

func TestRegistry_Priority(t *testing.T) {
	r := NewRegistry()
	r.Register(FormatterFunc{Match: ForTools("a"), Render: func(toolexecutor.ToolExecutionResult, toolexecutor.ToolCall) string { return "first" }})
	r.Register(FormatterFunc{Match: ForTools("a", "b"), Render: func(toolexecutor.ToolExecutionResult, toolexecutor.ToolCall) string { return "second" }})

	assert.Equal(t, "first", r.Format(ok(`{}`), call("a")))
	assert.Equal(t, "second", r.Format(ok(`{}`), call("b")))

	r.Prepend(FormatterFunc{Match: ForTools("b"), Render: func(toolexecutor.ToolExecutionResult, toolexecutor.ToolCall) string { return "override" }})
	assert.Equal(t, "override", r.Format(ok(`{}`), call("b")))
	assert.Equal(t, "first", r.Format(ok(`{}`), call("a")))
}

func TestProjectFormatter(t *testing.T) {
	r := Default()

	out := r.Format(ok(`{"id":"p1","name":"Launch","description":"Q3 launch"}`), call("create_project"))
	assert.Equal(t, `Created project <REF path="project:p1">Launch</REF>`+"\nQ3 launch", out)

	out = r.Format(ok(`{"id":"p1","name":"Launch","task_counts":{"todo":2,"in_progress":1,"done":0}}`), call("get_project"))
	assert.Contains(t, out, "Tasks: 2 todo, 1 in progress, 0 done")

	out = r.Format(ok(`{"projects":[{"id":"p1","name":"A"},{"id":"p2","name":"B"}],"count":2}`), call("list_projects"))
	markers := refmarker.Parse(out)
	require.Len(t, markers, 2)
	assert.Equal(t, "p2", markers[1].ID)
	assert.True(t, strings.HasPrefix(out, "Found 2 projects:"))

	assert.Equal(t, "No projects found.", r.Format(ok(`{"projects":[],"count":0}`), call("list_projects")))
	assert.Equal(t, `Deleted project "Launch".`, r.Format(ok(`{"id":"p1","name":"Launch","deleted":true}`), call("delete_project")))
}

func TestTaskFormatter(t *testing.T) {
	r := Default()
	task := `{"id":"t1","project_id":"p1","title":"Write copy","status":"in_progress","description":"homepage"}`

	out := r.Format(ok(task), call("move_task"))
	assert.Equal(t, `Moved task <REF path="task:t1">Write copy</REF> to in_progress`, out)

	out = r.Format(ok(task), call("get_task"))
	markers := refmarker.Parse(out)
	require.Len(t, markers, 2)
	assert.Equal(t, refmarker.KindTask, markers[0].Kind)
	assert.Equal(t, refmarker.Marker{Kind: refmarker.KindProject, ID: "p1", Label: "project"}, markers[1])
	assert.Contains(t, out, "Description: homepage")

	out = r.Format(ok(`{"tasks":[`+task+`],"count":1}`), call("list_tasks"))
	assert.Equal(t, "Found 1 task:\n- "+`<REF path="task:t1">Write copy</REF> [in_progress]`, out)
}
