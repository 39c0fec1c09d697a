package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harun/taskpilot/pkg/taskqueue"
	"github.com/harun/taskpilot/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Call(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*ModelResponse)
	return resp, args.Error(1)
}

func (m *mockModel) Provider() string {
	return "mock"
}

func rateLimited() error {
	return NewProviderError("mock", 429, "slow down", nil)
}

func toolCallResponse(id, name string, args map[string]any) *ModelResponse {
	return &ModelResponse{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: args}}}
}

func newTestExecutor(t *testing.T) *toolexecutor.ToolExecutor {
	t.Helper()
	te := toolexecutor.New()

	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "Echo the input",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"text": params["text"]}, nil
		},
	}))
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errors.New("project not found")
		},
	}))
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "boom",
		Description: "Always panics",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			panic("kaboom")
		},
	}))
	return te
}

type loopFixture struct {
	loop   *Loop
	model  *mockModel
	queues *taskqueue.Registry
	delays []time.Duration
}

func setupTestLoop(t *testing.T, cfg LoopConfig) *loopFixture {
	t.Helper()

	f := &loopFixture{
		model:  &mockModel{},
		queues: taskqueue.NewRegistry(),
	}
	t.Cleanup(f.queues.Close)

	loop, err := NewLoop(LoopOptions{
		Model:  f.model,
		Tools:  newTestExecutor(t),
		Queues: f.queues,
		Config: cfg,
	})
	require.NoError(t, err)
	loop.wait = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return ctx.Err()
	}
	f.loop = loop
	return f
}

func userPrompt(text string) []Message {
	return []Message{{Role: RoleUser, Content: text}}
}

func collect(events chan Event) []Event {
	close(events)
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func countRetries(events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(RetryEvent); ok {
			n++
		}
	}
	return n
}

func TestNewLoop(t *testing.T) {
	_, err := NewLoop(LoopOptions{Tools: toolexecutor.New()})
	assert.Error(t, err)

	_, err = NewLoop(LoopOptions{Model: &mockModel{}})
	assert.Error(t, err)

	loop, err := NewLoop(LoopOptions{Model: &mockModel{}, Tools: toolexecutor.New()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, loop.Config().MaxIterations)
	assert.Equal(t, DefaultStoreName, loop.Config().StoreName)
}

func TestLoop_DoneOnFirstIteration(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())
	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "Hello!"}, nil).Once()

	events := make(chan Event, 16)
	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{Events: events})
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.State.Status)
	assert.True(t, result.State.Terminal)
	assert.Equal(t, 0, result.State.Iteration)
	assert.False(t, result.Exhausted)
	assert.Equal(t, "Hello!", result.Message.Content)
	require.Len(t, result.State.Messages, 2)
	assert.Equal(t, RoleAssistant, result.State.Messages[1].Role)
	f.model.AssertNumberOfCalls(t, "Call", 1)

	got := collect(events)
	require.Len(t, got, 3)
	assert.IsType(t, IterationStartEvent{}, got[0])
	assert.IsType(t, FinalMessageEvent{}, got[1])
	assert.Equal(t, CompleteEvent{Status: StatusDone}, got[2])
}

func TestLoop_ToolRoundThenAnswer(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())
	f.model.On("Call", mock.Anything, mock.MatchedBy(func(req ModelRequest) bool {
		return len(req.Messages) == 1
	})).Return(toolCallResponse("call-1", "echo", map[string]any{"text": "ping"}), nil).Once()
	f.model.On("Call", mock.Anything, mock.MatchedBy(func(req ModelRequest) bool {
		return len(req.Messages) == 3
	})).Return(&ModelResponse{Content: "pong"}, nil).Once()

	events := make(chan Event, 16)
	result, err := f.loop.Run(context.Background(), userPrompt("echo ping"), RunOptions{Events: events})
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.State.Status)
	assert.Equal(t, 1, result.State.Iteration)

	msgs := result.State.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, msgs[2].Role)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Contains(t, msgs[2].Content, "Tool echo executed successfully.")
	assert.Contains(t, msgs[2].Content, "ping")
	assert.Equal(t, "pong", msgs[3].Content)
	f.model.AssertExpectations(t)

	got := collect(events)
	var sawExecuting, sawComplete bool
	for _, ev := range got {
		switch e := ev.(type) {
		case ToolsExecutingEvent:
			sawExecuting = true
			assert.Len(t, e.Calls, 1)
		case ToolsCompleteEvent:
			sawComplete = true
			require.Len(t, e.Results, 1)
			assert.True(t, e.Results[0].Success)
			assert.Equal(t, "call-1", e.Results[0].CallID)
		}
	}
	assert.True(t, sawExecuting)
	assert.True(t, sawComplete)
}

func TestLoop_RequestCarriesToolsAndConfig(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.SystemPrompt = "You manage projects."
	f := setupTestLoop(t, cfg)

	f.model.On("Call", mock.Anything, mock.MatchedBy(func(req ModelRequest) bool {
		return req.Model == "override-model" &&
			req.SystemPrompt == "You manage projects." &&
			len(req.Tools) == 3 &&
			req.Tools[0].Name == "boom" &&
			req.Extras["trace"] == true
	})).Return(&ModelResponse{Content: "ok"}, nil).Once()

	_, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{
		Model:  "override-model",
		Extras: map[string]any{"trace": true},
	})
	require.NoError(t, err)
	f.model.AssertExpectations(t)
}

func TestLoop_RetriesThenSucceeds(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.BaseDelay = 10 * time.Millisecond
	f := setupTestLoop(t, cfg)

	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited()).Twice()
	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "finally"}, nil).Once()

	events := make(chan Event, 16)
	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{Events: events})
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.State.Status)
	assert.Equal(t, "finally", result.Message.Content)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, f.delays)
	f.model.AssertNumberOfCalls(t, "Call", 3)

	got := collect(events)
	assert.Equal(t, 2, countRetries(got))
	for _, ev := range got {
		if retry, ok := ev.(RetryEvent); ok {
			assert.Equal(t, 3, retry.MaxAttempts)
			assert.True(t, IsRetryable(retry.Err))
		}
	}
}

func TestLoop_RetryEventFollowsBackoff(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())

	events := make(chan Event, 16)
	var publishedAtWait []int
	f.loop.wait = func(ctx context.Context, d time.Duration) error {
		publishedAtWait = append(publishedAtWait, len(events))
		return nil
	}

	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited()).Twice()
	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "ok"}, nil).Once()

	_, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{Events: events})
	require.NoError(t, err)

	got := collect(events)
	require.Len(t, publishedAtWait, 2)
	for i, n := range publishedAtWait {
		// the event published right after each wait is that attempt's retry
		require.Less(t, n, len(got))
		retry, ok := got[n].(RetryEvent)
		require.True(t, ok, "event %d is %T", n, got[n])
		assert.Equal(t, i+1, retry.Attempt)
	}
}

func TestLoop_RateLimitExhausted(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxRetries = 3
	cfg.BaseDelay = time.Millisecond
	f := setupTestLoop(t, cfg)

	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited())

	events := make(chan Event, 16)
	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{Events: events})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrRateLimitExhausted)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 429, perr.StatusCode)

	assert.Equal(t, StatusFailed, result.State.Status)
	assert.Len(t, result.State.Messages, 1)
	f.model.AssertNumberOfCalls(t, "Call", 4)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, f.delays)

	got := collect(events)
	assert.Equal(t, 3, countRetries(got))
	assert.IsType(t, ErrorEvent{}, got[len(got)-2])
}

func TestLoop_RetryCounterResetsAfterSuccess(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxRetries = 1
	f := setupTestLoop(t, cfg)

	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited()).Once()
	f.model.On("Call", mock.Anything, mock.Anything).Return(toolCallResponse("c1", "echo", map[string]any{"text": "x"}), nil).Once()
	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited()).Once()
	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "done"}, nil).Once()

	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.State.Status)
	assert.Len(t, f.delays, 2)
}

func TestLoop_NonRetryableErrorAppendsNothing(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())
	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, NewProviderError("mock", 400, "bad request", nil)).Once()

	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{})
	require.Error(t, err)

	assert.NotErrorIs(t, err, ErrRateLimitExhausted)
	assert.Equal(t, StatusFailed, result.State.Status)
	assert.Equal(t, err, result.State.LastError)
	assert.Len(t, result.State.Messages, 1)
	assert.Empty(t, f.delays)
	f.model.AssertNumberOfCalls(t, "Call", 1)
}

func TestLoop_IterationLimit(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.MaxIterations = 2
	f := setupTestLoop(t, cfg)

	f.model.On("Call", mock.Anything, mock.Anything).Return(toolCallResponse("c", "echo", map[string]any{"text": "again"}), nil)

	events := make(chan Event, 32)
	result, err := f.loop.Run(context.Background(), userPrompt("loop forever"), RunOptions{Events: events})
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.State.Status)
	assert.True(t, result.Exhausted)
	assert.Equal(t, 2, result.State.Iteration)
	assert.Len(t, result.Message.ToolCalls, 1)
	assert.Len(t, result.State.Messages, 5)
	f.model.AssertNumberOfCalls(t, "Call", 2)

	got := collect(events)
	assert.Equal(t, CompleteEvent{Status: StatusExhausted, Iterations: 2, Exhausted: true}, got[len(got)-1])
}

func TestLoop_ToolFailuresAreFedBack(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())

	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{ToolCalls: []ToolCall{
		{ID: "c1", Name: "fail"},
		{ID: "c2", Name: "boom"},
		{ID: "c3", Name: "missing"},
		{ID: "c4", Name: "echo", Arguments: map[string]any{"text": 42}},
	}}, nil).Once()
	f.model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "sorry"}, nil).Once()

	result, err := f.loop.Run(context.Background(), userPrompt("break things"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.State.Status)

	msgs := result.State.Messages
	require.Len(t, msgs, 7)
	assert.Equal(t, "Error: project not found", msgs[2].Content)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Contains(t, msgs[3].Content, "Error executing tool boom: ")
	assert.Contains(t, msgs[3].Content, "kaboom")
	assert.Contains(t, msgs[4].Content, "Error: tool not found: missing")
	assert.Contains(t, msgs[5].Content, "Error: parameter validation failed")
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, []string{
		msgs[2].ToolCallID, msgs[3].ToolCallID, msgs[4].ToolCallID, msgs[5].ToolCallID,
	})
}

func TestLoop_DestroyedQueueFails(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())
	f.queues.Close()

	f.model.On("Call", mock.Anything, mock.Anything).Return(toolCallResponse("c1", "echo", map[string]any{"text": "x"}), nil).Once()

	result, err := f.loop.Run(context.Background(), userPrompt("hi"), RunOptions{})
	require.Error(t, err)

	assert.ErrorIs(t, err, taskqueue.ErrQueueDestroyed)
	assert.Equal(t, StatusFailed, result.State.Status)
	// the assistant message was appended before tools ran, and its call is answered
	require.Len(t, result.State.Messages, 3)
	assert.Len(t, result.State.Messages[1].ToolCalls, 1)
	assert.Equal(t, RoleTool, result.State.Messages[2].Role)
	assert.Equal(t, "c1", result.State.Messages[2].ToolCallID)
	assert.Contains(t, result.State.Messages[2].Content, "Error executing tool echo:")
}

func TestLoop_ContextCancelledDuringBackoff(t *testing.T) {
	f := setupTestLoop(t, DefaultLoopConfig())
	ctx, cancel := context.WithCancel(context.Background())
	f.loop.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, time.Hour)
	}

	f.model.On("Call", mock.Anything, mock.Anything).Return(nil, rateLimited()).Once()

	events := make(chan Event, 16)
	result, err := f.loop.Run(ctx, userPrompt("hi"), RunOptions{Events: events})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, result.State.Status)
	f.model.AssertNumberOfCalls(t, "Call", 1)
	assert.Zero(t, countRetries(collect(events)))
}

func TestLoop_ToolCallsRunInOrder(t *testing.T) {
	te := toolexecutor.New()
	var order []string
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "record",
		Description: "Record a call",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "n", Type: "integer", Description: "Sequence number", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			order = append(order, fmt.Sprint(params["n"]))
			return nil, nil
		},
	}))

	model := &mockModel{}
	calls := make([]ToolCall, 0, 5)
	for i := 0; i < 5; i++ {
		calls = append(calls, ToolCall{ID: fmt.Sprintf("c%d", i), Name: "record", Arguments: map[string]any{"n": i}})
	}
	model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{ToolCalls: calls}, nil).Once()
	model.On("Call", mock.Anything, mock.Anything).Return(&ModelResponse{Content: "ok"}, nil).Once()

	loop, err := NewLoop(LoopOptions{Model: model, Tools: te})
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), userPrompt("go"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, order)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(time.Second, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(time.Second, 3))
	assert.Equal(t, time.Second, backoffDelay(time.Second, 0))
}

func TestPublishNilChannel(t *testing.T) {
	assert.NotPanics(t, func() {
		publish(context.Background(), nil, ErrorEvent{Err: errors.New("x")})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := make(chan Event)
	done := make(chan struct{})
	go func() {
		publish(ctx, blocked, CompleteEvent{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not honor context cancellation")
	}
}
