// Package toolexecutor registers and executes structured tools for the agent loop.
//
// Invariants:
// - Tool names are unique; registering a name again replaces the tool.
// - Arguments are schema-validated before the handler runs.
// - Handler errors become unsuccessful results; handler panics are returned as errors.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]any) (any, error) { return params["text"], nil },
//	})
//	result, err := exec.Execute(ctx, toolexecutor.ToolCall{ID: "1", Name: "echo", Arguments: map[string]any{"text": "hi"}})
package toolexecutor
