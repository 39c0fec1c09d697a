package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const fileExt = ".jsonl"

// ToolCall is a persisted tool request carried by an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message represents a single conversation turn
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// SessionEntry represents a message with its conversation ID
type SessionEntry struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// Info describes a stored conversation.
type Info struct {
	ConversationID string    `json:"conversation_id"`
	Size           int64     `json:"size"`
	LastModified   time.Time `json:"last_modified"`
	MessageCount   int       `json:"message_count"`
}

// SessionManager manages conversation persistence using JSONL format
type SessionManager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New creates a new SessionManager rooted at sessionsDir, defaulting to
// ~/.taskpilot/sessions.
func New(sessionsDir string) (*SessionManager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".taskpilot", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sm := &SessionManager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Debug().Str("dir", sessionsDir).Msg("Session manager initialized")
	sm.updateActiveSessionsMetric()

	return sm, nil
}

// ValidateConversationID rejects IDs that are empty or could escape the
// sessions directory.
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("conversation id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("conversation id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("conversation id cannot contain null bytes")
	}
	return nil
}

func (sm *SessionManager) path(id string) string {
	return filepath.Join(sm.sessionsDir, id+fileExt)
}

func (sm *SessionManager) updateActiveSessionsMetric() {
	sessions, err := sm.ListSessions()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (sm *SessionManager) writeLock(id string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	if lock, ok := sm.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	sm.writeLocks[id] = lock
	return lock
}

// CreateSession creates an empty history file. Existing files are left alone.
func (sm *SessionManager) CreateSession(ctx context.Context, id string) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}

	lock := sm.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	return sm.createLocked(ctx, id)
}

func (sm *SessionManager) createLocked(ctx context.Context, id string) error {
	file, err := os.OpenFile(sm.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	file.Close()

	sm.updateActiveSessionsMetric()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Str("conversation_id", id).Msg("Session created")
	return nil
}

// AppendMessage appends one message to the conversation's history,
// creating the file if needed.
func (sm *SessionManager) AppendMessage(id string, message Message) error {
	return sm.AppendMessages(context.Background(), id, message)
}

// AppendMessages appends messages in order under a single lock and fsync.
func (sm *SessionManager) AppendMessages(ctx context.Context, id string, messages ...Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"taskpilot.session",
		"session.append",
		attribute.String("conversation_id", id),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	err := sm.appendMessages(ctx, id, messages)
	tracing.RecordError(span, err)
	return err
}

func (sm *SessionManager) appendMessages(ctx context.Context, id string, messages []Message) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}

	lines := make([]byte, 0, 256*len(messages))
	for _, message := range messages {
		if message.Role == "" {
			return fmt.Errorf("message role cannot be empty")
		}
		if message.Content == "" && len(message.ToolCalls) == 0 {
			return fmt.Errorf("message content cannot be empty")
		}
		if message.Timestamp.IsZero() {
			message.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(SessionEntry{ConversationID: id, Message: message})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		lines = append(lines, data...)
		lines = append(lines, '\n')
	}
	if len(lines) == 0 {
		return nil
	}

	lock := sm.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := sm.createLocked(ctx, id); err != nil {
		return err
	}

	file, err := os.OpenFile(sm.path(id), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(lines); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("conversation_id", id).
		Int("messages", len(messages)).
		Msg("Messages appended")

	return nil
}

// LoadSession loads every entry of a conversation. A missing conversation
// yields an empty slice. Corrupt lines are skipped.
func (sm *SessionManager) LoadSession(id string) ([]SessionEntry, error) {
	return sm.LoadSessionWithContext(context.Background(), id)
}

// LoadSessionWithContext is LoadSession with tracing context.
func (sm *SessionManager) LoadSessionWithContext(ctx context.Context, id string) ([]SessionEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"taskpilot.session",
		"session.load",
		attribute.String("conversation_id", id),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	entries, err := sm.load(ctx, id)
	tracing.RecordError(span, err)
	return entries, err
}

func (sm *SessionManager) load(ctx context.Context, id string) ([]SessionEntry, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("conversation_id", id).Logger()

	if err := ValidateConversationID(id); err != nil {
		return nil, err
	}

	file, err := os.Open(sm.path(id))
	if os.IsNotExist(err) {
		return []SessionEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	entries := []SessionEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" || (entry.Message.Content == "" && len(entry.Message.ToolCalls) == 0) {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return entries, nil
}

// ReplaceSession atomically rewrites a conversation with entries.
func (sm *SessionManager) ReplaceSession(id string, entries []SessionEntry) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}

	lock := sm.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := sm.path(id)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		entry.ConversationID = id
		data, err := json.Marshal(entry)
		if err == nil {
			data = append(data, '\n')
			_, err = writer.Write(data)
		}
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// RepairSession rewrites a conversation dropping corrupt lines.
func (sm *SessionManager) RepairSession(id string) error {
	entries, err := sm.LoadSession(id)
	if err != nil {
		return err
	}
	if err := sm.ReplaceSession(id, entries); err != nil {
		return err
	}

	log.Info().Str("conversation_id", id).Int("entries", len(entries)).Msg("Session repaired")
	return nil
}

// DeleteSession deletes a conversation's history. Deleting a missing
// conversation is not an error.
func (sm *SessionManager) DeleteSession(id string) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}

	lock := sm.writeLock(id)
	lock.Lock()
	err := os.Remove(sm.path(id))
	lock.Unlock()

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	sm.locksMu.Lock()
	delete(sm.writeLocks, id)
	sm.locksMu.Unlock()

	sm.updateActiveSessionsMetric()
	log.Debug().Str("conversation_id", id).Msg("Session deleted")
	return nil
}

// ListSessions lists stored conversation IDs, sorted.
func (sm *SessionManager) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// GetSessionInfo returns metadata about a conversation.
func (sm *SessionManager) GetSessionInfo(id string) (*Info, error) {
	if err := ValidateConversationID(id); err != nil {
		return nil, err
	}

	stat, err := os.Stat(sm.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s does not exist", id)
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := sm.LoadSession(id)
	if err != nil {
		return nil, err
	}

	return &Info{
		ConversationID: id,
		Size:           stat.Size(),
		LastModified:   stat.ModTime(),
		MessageCount:   len(entries),
	}, nil
}

// Close releases per-conversation locks.
func (sm *SessionManager) Close() error {
	sm.locksMu.Lock()
	sm.writeLocks = make(map[string]*sync.Mutex)
	sm.locksMu.Unlock()
	return nil
}
