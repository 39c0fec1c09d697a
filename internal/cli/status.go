package cli

import (
	"fmt"
	"time"

	"github.com/harun/taskpilot/internal/config"
	"github.com/harun/taskpilot/pkg/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and conversation status",
	Long:  `Show where Taskpilot keeps its data and a summary of the project store and stored conversations.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{store: true, sessions: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Store: %s\n", a.cfg.Store.Path)
	fmt.Fprintf(out, "Sessions: %s\n", a.cfg.Sessions.Dir)

	if profile, err := a.cfg.Profile(""); err == nil {
		fmt.Fprintf(out, "Provider: %s (%s)\n", profile.Provider, a.cfg.Agent.Model)
	} else {
		fmt.Fprintln(out, "Provider: not configured")
	}

	ctx := cmd.Context()
	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	tasks, err := a.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	counts := map[store.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Fprintf(out, "Projects: %d\n", len(projects))
	fmt.Fprintf(out, "Tasks: %d todo, %d in progress, %d done\n",
		counts[store.StatusTodo], counts[store.StatusInProgress], counts[store.StatusDone])

	ids, err := a.sessions.ListSessions()
	if err != nil {
		return err
	}
	var lastActive time.Time
	for _, id := range ids {
		if info, err := a.sessions.GetSessionInfo(id); err == nil && info.LastModified.After(lastActive) {
			lastActive = info.LastModified
		}
	}
	if lastActive.IsZero() {
		fmt.Fprintf(out, "Conversations: %d\n", len(ids))
	} else {
		fmt.Fprintf(out, "Conversations: %d (last active %s ago)\n", len(ids), formatDuration(time.Since(lastActive)))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
