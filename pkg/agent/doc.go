// Package agent drives a conversational model through rounds of tool calls.
//
// A Loop calls the model, executes the requested tools one at a time on the
// store queue, feeds formatted outcomes back as tool messages and stops when
// the model answers without tool calls, when the iteration limit is reached,
// or on a non-retryable failure. Retryable provider failures back off
// exponentially up to LoopConfig.MaxRetries times.
//
// A Runner wraps the loop for conversations: it guards the prompt, serializes
// turns per conversation, loads history and persists what the turn appended.
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, err := runner.Run(ctx, agent.RunParams{
//		ConversationID: "conv-1",
//		Prompt:         "create a project called Launch",
//	})
package agent
