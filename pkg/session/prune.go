package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PruneOptions controls Prune. Zero values disable the corresponding rule.
type PruneOptions struct {
	// MaxAge deletes conversations not modified for longer than this.
	MaxAge time.Duration
	// MaxEntries trims longer conversations to their most recent entries.
	MaxEntries int
}

// PruneReport summarises a Prune run.
type PruneReport struct {
	Deleted []string `json:"deleted"`
	Trimmed []string `json:"trimmed"`
}

// Prune applies the retention rules in opts to every stored conversation.
// Failures on one conversation are logged and do not stop the run.
func (sm *SessionManager) Prune(opts PruneOptions) (*PruneReport, error) {
	sessions, err := sm.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	report := &PruneReport{Deleted: []string{}, Trimmed: []string{}}
	now := time.Now()

	for _, id := range sessions {
		info, err := sm.GetSessionInfo(id)
		if err != nil {
			log.Warn().Str("conversation_id", id).Err(err).Msg("Failed to get session info")
			continue
		}

		if opts.MaxAge > 0 && now.Sub(info.LastModified) >= opts.MaxAge {
			if err := sm.DeleteSession(id); err != nil {
				log.Error().Str("conversation_id", id).Err(err).Msg("Failed to delete session")
				continue
			}
			report.Deleted = append(report.Deleted, id)
			continue
		}

		if opts.MaxEntries > 0 && info.MessageCount > opts.MaxEntries {
			if err := sm.trim(id, opts.MaxEntries); err != nil {
				log.Warn().Str("conversation_id", id).Err(err).Msg("Failed to trim session")
				continue
			}
			report.Trimmed = append(report.Trimmed, id)
		}
	}

	if len(report.Deleted) > 0 || len(report.Trimmed) > 0 {
		log.Info().
			Int("deleted", len(report.Deleted)).
			Int("trimmed", len(report.Trimmed)).
			Msg("Pruned sessions")
	}

	return report, nil
}

// trim keeps the last maxEntries entries, then drops leading tool results
// whose assistant message was cut off.
func (sm *SessionManager) trim(id string, maxEntries int) error {
	entries, err := sm.LoadSession(id)
	if err != nil {
		return err
	}
	if len(entries) <= maxEntries {
		return nil
	}

	kept := entries[len(entries)-maxEntries:]
	for len(kept) > 0 && kept[0].Message.Role == "tool" {
		kept = kept[1:]
	}
	return sm.ReplaceSession(id, kept)
}
