// Package formatter turns tool execution results into the short text that is
// shown to users and fed back to the model.
package formatter

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/harun/taskpilot/pkg/toolexecutor"
	"github.com/tidwall/pretty"
)

const unknownError = "Unknown error occurred"

// Formatter renders successful results for the tools it recognises.
type Formatter interface {
	CanFormat(toolName string) bool
	Format(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string
}

// FormatterFunc adapts a predicate and a render function to Formatter.
type FormatterFunc struct {
	Match  func(toolName string) bool
	Render func(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string
}

// CanFormat implements Formatter.
func (f FormatterFunc) CanFormat(toolName string) bool {
	return f.Match != nil && f.Match(toolName)
}

// Format implements Formatter.
func (f FormatterFunc) Format(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string {
	return f.Render(result, call)
}

// ForTools returns a predicate matching exactly the given tool names.
func ForTools(names ...string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}

// Registry is an ordered list of formatters. The first formatter that
// accepts a tool name wins.
type Registry struct {
	mu         sync.RWMutex
	formatters []Formatter
}

// NewRegistry creates a registry holding formatters in the given order.
func NewRegistry(formatters ...Formatter) *Registry {
	return &Registry{formatters: append([]Formatter(nil), formatters...)}
}

// Default returns a registry with the built-in project and task formatters.
func Default() *Registry {
	return NewRegistry(ProjectFormatter{}, TaskFormatter{})
}

// Register appends f, giving it the lowest priority.
func (r *Registry) Register(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters = append(r.formatters, f)
}

// Prepend inserts f ahead of every registered formatter.
func (r *Registry) Prepend(f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters = append([]Formatter{f}, r.formatters...)
}

// Format renders result. Failures are always rendered as "Error: <message>"
// without consulting any formatter.
func (r *Registry) Format(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string {
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = unknownError
		}
		return "Error: " + msg
	}

	r.mu.RLock()
	var match Formatter
	for _, f := range r.formatters {
		if f.CanFormat(call.Name) {
			match = f
			break
		}
	}
	r.mu.RUnlock()

	if match != nil {
		return match.Format(result, call)
	}
	return Fallback(result, call)
}

// FormatError renders an error raised while executing call.
func (r *Registry) FormatError(err error, call toolexecutor.ToolCall) string {
	return FormatError(err, call)
}

// FormatError renders an error raised while executing call.
func FormatError(err error, call toolexecutor.ToolCall) string {
	msg := unknownError
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("Error executing tool %s: %s", call.Name, msg)
}

// Fallback renders a result for a tool no formatter recognises.
func Fallback(result toolexecutor.ToolExecutionResult, call toolexecutor.ToolCall) string {
	header := fmt.Sprintf("Tool %s executed successfully.", call.Name)

	payload := bytes.TrimSpace(pretty.Pretty(result.Result))
	if len(payload) == 0 {
		return header
	}
	return header + "\n\n" + string(payload)
}
