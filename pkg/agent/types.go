package agent

import (
	"time"

	"github.com/harun/taskpilot/pkg/toolexecutor"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// ToolCall is a tool request produced by the model.
type ToolCall = toolexecutor.ToolCall

// ToolExecutionResult is the outcome of running one ToolCall.
type ToolExecutionResult = toolexecutor.ToolExecutionResult

// Message is one entry of a conversation. Messages are never modified after
// they are appended; their order is the model's only context.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Status is the loop state.
type Status string

const (
	StatusAwaitingResponse Status = "awaiting_response"
	StatusExecutingTools   Status = "executing_tools"
	StatusBackoff          Status = "backoff"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
	StatusExhausted        Status = "exhausted"
)

// IsTerminal reports whether s ends the loop.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusExhausted
}

// ConversationState is owned by a single loop invocation.
type ConversationState struct {
	Messages  []Message `json:"messages"`
	Iteration int       `json:"iteration"`
	Status    Status    `json:"status"`
	Terminal  bool      `json:"terminal"`
	LastError error     `json:"-"`
}

func (s *ConversationState) append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

func (s *ConversationState) transition(status Status) {
	s.Status = status
	s.Terminal = status.IsTerminal()
}

// Result is returned when the loop reaches a terminal state.
type Result struct {
	// Message is the last assistant message.
	Message   Message            `json:"message"`
	State     *ConversationState `json:"state"`
	Exhausted bool               `json:"exhausted"`
	Usage     TokenUsage         `json:"usage"`
}

// TokenUsage accumulates token counts across model calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// LoopConfig bounds a loop run.
type LoopConfig struct {
	Model         string
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	MaxRetries    int
	BaseDelay     time.Duration
	// StoreName selects the store queue key tool executions are serialized on.
	StoreName string
}

// Defaults used when LoopConfig fields are zero.
const (
	DefaultMaxIterations = 10
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = time.Second
	DefaultStoreName     = "default"
)

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Model:         "claude-sonnet-4-5",
		MaxTokens:     4096,
		Temperature:   0.7,
		MaxIterations: DefaultMaxIterations,
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		StoreName:     DefaultStoreName,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.StoreName == "" {
		c.StoreName = DefaultStoreName
	}
	return c
}

// StoreKey is the queue key tool executions for the named store run on.
func StoreKey(name string) string {
	return "store:" + name
}

// ConversationKey is the queue key a conversation's turns run on.
func ConversationKey(id string) string {
	return "conversation:" + id
}
