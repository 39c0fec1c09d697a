package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/taskpilot/pkg/session"
	"github.com/spf13/cobra"
)

var (
	pruneMaxAge     time.Duration
	pruneMaxEntries int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old conversations and trim long ones",
	RunE:  runSessionsPrune,
}

func init() {
	sessionsPruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 30*24*time.Hour, "delete conversations idle for longer than this (0 disables)")
	sessionsPruneCmd.Flags().IntVar(&pruneMaxEntries, "max-entries", 0, "keep at most this many messages per conversation (0 disables)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withSessions(fn func(sm *session.SessionManager) error) error {
	a, err := newApp(appOptions{sessions: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.sessions)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withSessions(func(sm *session.SessionManager) error {
		ids, err := sm.ListSessions()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No conversations")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tSIZE\tLAST ACTIVE")
		for _, id := range ids {
			info, err := sm.GetSessionInfo(id)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s ago\n", id, info.MessageCount, info.Size, formatDuration(time.Since(info.LastModified)))
		}
		return w.Flush()
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withSessions(func(sm *session.SessionManager) error {
		if err := sm.DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	})
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	return withSessions(func(sm *session.SessionManager) error {
		report, err := sm.Prune(session.PruneOptions{MaxAge: pruneMaxAge, MaxEntries: pruneMaxEntries})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d, trimmed %d\n", len(report.Deleted), len(report.Trimmed))
		return nil
	})
}
