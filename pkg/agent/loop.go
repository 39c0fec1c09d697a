package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/internal/tracing"
	"github.com/harun/taskpilot/pkg/formatter"
	"github.com/harun/taskpilot/pkg/taskqueue"
	"github.com/harun/taskpilot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ToolRunner executes tool calls and describes the available tools.
type ToolRunner interface {
	Execute(ctx context.Context, call ToolCall) (ToolExecutionResult, error)
	Definitions() []toolexecutor.ToolSpec
}

// OutcomeFormatter renders tool outcomes as tool message content.
type OutcomeFormatter interface {
	Format(result ToolExecutionResult, call ToolCall) string
	FormatError(err error, call ToolCall) string
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Model     Model
	Tools     ToolRunner
	Formatter OutcomeFormatter
	Queues    *taskqueue.Registry
	Config    LoopConfig
	// ToolTimeout bounds each tool call; zero keeps the executor default.
	ToolTimeout time.Duration
	Logger      *zerolog.Logger
}

// Loop drives a model through rounds of tool calls until it answers.
type Loop struct {
	model       Model
	tools       ToolRunner
	formatter   OutcomeFormatter
	queues      *taskqueue.Registry
	config      LoopConfig
	toolTimeout time.Duration
	logger      zerolog.Logger

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewLoop creates a loop. Formatter and Queues default to the built-in
// formatters and a private registry.
func NewLoop(opts LoopOptions) (*Loop, error) {
	observability.EnsureRegistered()

	if opts.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}

	l := &Loop{
		model:       opts.Model,
		tools:       opts.Tools,
		formatter:   opts.Formatter,
		queues:      opts.Queues,
		config:      opts.Config.withDefaults(),
		toolTimeout: opts.ToolTimeout,
		logger:      log.Logger,
		wait:        sleepContext,
	}
	if l.formatter == nil {
		l.formatter = formatter.Default()
	}
	if l.queues == nil {
		l.queues = taskqueue.NewRegistry()
	}
	if opts.Logger != nil {
		l.logger = *opts.Logger
	}
	return l, nil
}

// Config returns the loop's effective configuration.
func (l *Loop) Config() LoopConfig {
	return l.config
}

// RunOptions are per-run overrides.
type RunOptions struct {
	// Model overrides LoopConfig.Model when set.
	Model  string
	Extras map[string]any
	// Events receives the run's events. Nil disables publishing.
	Events chan<- Event
}

// Run drives the conversation in messages to a terminal state. The returned
// Result is never nil; on failure it carries the state reached so far.
func (l *Loop) Run(ctx context.Context, messages []Message, opts RunOptions) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "taskpilot.agent", "agent.loop",
		attribute.String("provider", l.model.Provider()),
		attribute.Int("max_iterations", l.config.MaxIterations),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)
	start := time.Now()

	state := &ConversationState{
		Messages: append([]Message(nil), messages...),
		Status:   StatusAwaitingResponse,
	}
	result := &Result{State: state}

	finish := func(status Status, err error) (*Result, error) {
		state.transition(status)
		state.LastError = err
		if err != nil {
			tracing.RecordError(span, err)
			logger.Error().Err(err).Int("iteration", state.Iteration).Msg("Agent loop failed")
			publish(ctx, opts.Events, ErrorEvent{Err: err})
		}
		publish(ctx, opts.Events, CompleteEvent{
			Status:     status,
			Iterations: state.Iteration,
			Exhausted:  status == StatusExhausted,
		})
		observability.RecordLoopRun(string(status), time.Since(start), state.Iteration)
		span.SetAttributes(
			attribute.String("status", string(status)),
			attribute.Int("iterations", state.Iteration),
		)
		return result, err
	}

	tools := l.tools.Definitions()
	attempt := 0
	iterationStarted := false

	for {
		if err := ctx.Err(); err != nil {
			return finish(StatusFailed, err)
		}

		state.transition(StatusAwaitingResponse)
		if !iterationStarted {
			iterationStarted = true
			publish(ctx, opts.Events, IterationStartEvent{Iteration: state.Iteration})
		}

		resp, err := l.callModel(ctx, state, tools, opts)
		if err != nil {
			if !IsRetryable(err) {
				return finish(StatusFailed, err)
			}

			attempt++
			if attempt > l.config.MaxRetries {
				return finish(StatusFailed, fmt.Errorf("%w after %d retries: %w", ErrRateLimitExhausted, l.config.MaxRetries, err))
			}

			state.transition(StatusBackoff)
			delay := backoffDelay(l.config.BaseDelay, attempt)
			var perr *ProviderError
			if errors.As(err, &perr) && perr.RetryAfter > delay {
				delay = perr.RetryAfter
			}
			observability.RecordModelRetry(l.model.Provider())
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("maxAttempts", l.config.MaxRetries).
				Dur("delay", delay).
				Msg("Retryable model error, backing off")

			if werr := l.wait(ctx, delay); werr != nil {
				return finish(StatusFailed, werr)
			}
			publish(ctx, opts.Events, RetryEvent{
				Attempt:     attempt,
				MaxAttempts: l.config.MaxRetries,
				Delay:       delay,
				Err:         err,
			})
			continue
		}
		attempt = 0
		result.Usage.add(resp.Usage)

		assistant := Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		state.append(assistant)
		result.Message = assistant

		if len(resp.ToolCalls) == 0 {
			publish(ctx, opts.Events, FinalMessageEvent{Message: assistant})
			return finish(StatusDone, nil)
		}

		state.transition(StatusExecutingTools)
		publish(ctx, opts.Events, ToolsExecutingEvent{Iteration: state.Iteration, Calls: resp.ToolCalls})

		results, err := l.executeTools(ctx, state, resp.ToolCalls)
		if err != nil {
			return finish(StatusFailed, err)
		}
		publish(ctx, opts.Events, ToolsCompleteEvent{Iteration: state.Iteration, Results: results})

		state.Iteration++
		publish(ctx, opts.Events, IterationCompleteEvent{Iteration: state.Iteration, ToolCalls: len(resp.ToolCalls)})
		iterationStarted = false

		if state.Iteration >= l.config.MaxIterations {
			logger.Warn().Int("iterations", state.Iteration).Msg("Agent loop hit iteration limit")
			result.Exhausted = true
			return finish(StatusExhausted, nil)
		}
	}
}

func (l *Loop) callModel(ctx context.Context, state *ConversationState, tools []toolexecutor.ToolSpec, opts RunOptions) (*ModelResponse, error) {
	provider := l.model.Provider()
	model := l.config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	ctx, span := tracing.StartSpan(ctx, "taskpilot.agent", "agent.model_call",
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Int("messages", len(state.Messages)),
	)
	defer span.End()

	start := time.Now()
	resp, err := l.model.Call(ctx, ModelRequest{
		Model:        model,
		Messages:     append([]Message(nil), state.Messages...),
		Tools:        tools,
		SystemPrompt: l.config.SystemPrompt,
		MaxTokens:    l.config.MaxTokens,
		Temperature:  l.config.Temperature,
		Extras:       opts.Extras,
	})
	if err == nil && resp == nil {
		err = &ProviderError{Provider: provider, Code: ErrorCodeUnknown, Message: "empty model response"}
	}
	observability.RecordModelCall(provider, time.Since(start), err == nil)
	tracing.RecordError(span, err)
	return resp, err
}

type toolOutcome struct {
	result ToolExecutionResult
	err    error
}

// executeTools runs calls in order on the store queue and appends one tool
// message per call. Only queue and context errors are returned; the round is
// still closed with an error message for every call that did not complete.
func (l *Loop) executeTools(ctx context.Context, state *ConversationState, calls []ToolCall) ([]ToolExecutionResult, error) {
	queue := l.queues.For(StoreKey(l.config.StoreName))
	results := make([]ToolExecutionResult, 0, len(calls))

	execCtx := toolexecutor.ContextWithExecContext(ctx, &toolexecutor.ExecutionContext{
		ConversationID: tracing.GetConversationID(ctx),
		Timeout:        l.toolTimeout,
	})

	for i, call := range calls {
		value, err := queue.Enqueue(execCtx, func(opCtx context.Context) (any, error) {
			result, err := l.tools.Execute(opCtx, call)
			return toolOutcome{result: result, err: err}, nil
		})
		if err != nil {
			l.closeRound(state, calls[i:], err)
			return results, fmt.Errorf("tool %s not executed: %w", call.Name, err)
		}

		outcome := value.(toolOutcome)
		result := outcome.result
		var content string
		if outcome.err != nil {
			if errors.Is(outcome.err, context.Canceled) || errors.Is(outcome.err, context.DeadlineExceeded) {
				l.closeRound(state, calls[i:], outcome.err)
				return results, outcome.err
			}
			content = l.formatter.FormatError(outcome.err, call)
			result = ToolExecutionResult{CallID: call.ID, Success: false, Error: outcome.err.Error()}
		} else {
			content = l.formatter.Format(result, call)
		}
		if result.CallID == "" {
			result.CallID = call.ID
		}

		results = append(results, result)
		state.append(Message{Role: RoleTool, Content: content, ToolCallID: call.ID})

		if err := ctx.Err(); err != nil && i+1 < len(calls) {
			l.closeRound(state, calls[i+1:], err)
			return results, err
		}
	}

	return results, nil
}

// closeRound answers calls that never ran so every tool call in the history
// has a matching tool message.
func (l *Loop) closeRound(state *ConversationState, calls []ToolCall, err error) {
	for _, call := range calls {
		state.append(Message{Role: RoleTool, Content: l.formatter.FormatError(err, call), ToolCallID: call.ID})
	}
}

// backoffDelay is base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
