package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/taskpilot/internal/tracing"
	"github.com/harun/taskpilot/pkg/inputguard"
	"github.com/harun/taskpilot/pkg/session"
	"github.com/harun/taskpilot/pkg/taskqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Runner runs conversation turns: guard, serialize, load, loop, persist.
type Runner struct {
	loop           *Loop
	sessionManager *session.SessionManager
	guard          *inputguard.Guard
	guardOptions   inputguard.Options
	queues         *taskqueue.Registry
	logger         zerolog.Logger

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Model          Model
	Tools          ToolRunner
	Formatter      OutcomeFormatter
	SessionManager *session.SessionManager
	Guard          *inputguard.Guard
	GuardOptions   inputguard.Options
	Queues         *taskqueue.Registry
	Loop           LoopConfig
	ToolTimeout    time.Duration
	Logger         zerolog.Logger
}

// RunParams contains input parameters for one turn
type RunParams struct {
	ConversationID string
	Prompt         string
	// Model overrides the configured model for this turn.
	Model  string
	Extras map[string]any
	Events chan<- Event
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	queues := cfg.Queues
	if queues == nil {
		queues = taskqueue.NewRegistry()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = inputguard.NewDefault()
	}

	logger := cfg.Logger
	loop, err := NewLoop(LoopOptions{
		Model:       cfg.Model,
		Tools:       cfg.Tools,
		Formatter:   cfg.Formatter,
		Queues:      queues,
		Config:      cfg.Loop,
		ToolTimeout: cfg.ToolTimeout,
		Logger:      &logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		loop:           loop,
		sessionManager: cfg.SessionManager,
		guard:          guard,
		guardOptions:   cfg.GuardOptions,
		queues:         queues,
		logger:         logger,
		activeRuns:     make(map[string]context.CancelFunc),
	}, nil
}

// Run executes one turn. Rejected input is returned as *ValidationError and
// never reaches the model. Turns of one conversation run one at a time.
func (r *Runner) Run(ctx context.Context, params RunParams) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := session.ValidateConversationID(params.ConversationID); err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.NewRunContext(ctx, params.ConversationID)
	ctx, span := tracing.StartSpan(ctx, "taskpilot.agent", "agent.run",
		attribute.String("conversation_id", params.ConversationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	validation := r.guard.Validate(params.Prompt, r.guardOptions)
	if !validation.IsValid {
		err := &ValidationError{Reason: validation.Reason}
		tracing.RecordError(span, err)
		return nil, err
	}
	prompt := validation.SanitizedContent
	if strings.TrimSpace(prompt) == "" {
		err := &ValidationError{Reason: "Content is empty"}
		tracing.RecordError(span, err)
		return nil, err
	}

	value, err := r.queues.Enqueue(ctx, ConversationKey(params.ConversationID), func(taskCtx context.Context) (any, error) {
		result, err := r.executeTurn(taskCtx, params, prompt)
		if result == nil {
			return nil, err
		}
		return result, err
	})
	if value == nil {
		if err != nil {
			logger.Error().Err(err).Msg("Agent run failed before execution")
			tracing.RecordError(span, err)
		}
		return nil, err
	}

	tracing.RecordError(span, err)
	return value.(*Result), err
}

// Abort cancels the in-flight turn of a conversation. It reports whether a
// turn was running.
func (r *Runner) Abort(conversationID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[conversationID]
	if !exists {
		r.logger.Debug().Str("conversation_id", conversationID).Msg("No active run to abort")
		return false
	}

	r.logger.Info().Str("conversation_id", conversationID).Msg("Aborting agent run")
	cancel()
	delete(r.activeRuns, conversationID)
	return true
}

// IsRunning checks if a turn is in flight for a conversation
func (r *Runner) IsRunning(conversationID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[conversationID]
	return exists
}

// Close destroys the runner's queues. Queued turns fail with
// taskqueue.ErrQueueDestroyed.
func (r *Runner) Close() {
	r.queues.Close()
}

func (r *Runner) executeTurn(ctx context.Context, params RunParams, prompt string) (*Result, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[params.ConversationID] = cancel
	r.runsMu.Unlock()

	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, params.ConversationID)
		r.runsMu.Unlock()
	}()

	entries, err := r.sessionManager.LoadSessionWithContext(runCtx, params.ConversationID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load session history")
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	history := make([]Message, 0, len(entries)+1)
	for _, entry := range entries {
		history = append(history, fromSessionMessage(entry.Message))
	}
	history = append(history, Message{Role: RoleUser, Content: prompt})

	result, runErr := r.loop.Run(runCtx, history, RunOptions{
		Model:  params.Model,
		Extras: params.Extras,
		Events: params.Events,
	})

	// the user message and everything the loop appended, even after an abort
	appended := result.State.Messages[len(entries):]
	toSave := make([]session.Message, 0, len(appended))
	for _, msg := range appended {
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		toSave = append(toSave, toSessionMessage(msg))
	}
	if err := r.sessionManager.AppendMessages(context.WithoutCancel(ctx), params.ConversationID, toSave...); err != nil {
		logger.Error().Err(err).Msg("Failed to persist conversation")
		if runErr == nil {
			return result, fmt.Errorf("failed to save conversation: %w", err)
		}
	}

	logger.Info().
		Str("status", string(result.State.Status)).
		Int("iterations", result.State.Iteration).
		Int("inputTokens", result.Usage.InputTokens).
		Int("outputTokens", result.Usage.OutputTokens).
		Msg("Agent run finished")

	return result, runErr
}

func toSessionMessage(msg Message) session.Message {
	out := session.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}

func fromSessionMessage(msg session.Message) Message {
	out := Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}
