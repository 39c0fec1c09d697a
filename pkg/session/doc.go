// Package session persists conversation history as one JSONL file per conversation.
//
// Invariants:
// - Conversation IDs are validated and path-safe.
// - Writes for the same conversation are serialized.
// - Entries are returned in the order they were appended.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/taskpilot/sessions")
//	_ = mgr.AppendMessage("conv-1", session.Message{Role: "user", Content: "hello"})
//	entries, _ := mgr.LoadSession("conv-1")
//	_ = entries
package session
