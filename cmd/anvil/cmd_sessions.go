package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"anvil/internal/adapter/store"
	"anvil/internal/domain"
)

var sessionsLimit int

// sessionsCmd lists stored sessions without starting the harness.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.NewSQLiteStore(cfg.Sessions.DBPath)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer st.Close()

		sessions, err := st.List(cmd.Context(), sessionsLimit)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		return printSessions(cmd.OutOrStdout(), sessions)
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions to show")
}

func printSessions(w io.Writer, sessions []domain.SessionInfo) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No saved sessions found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMODEL\tMESSAGES\tTITLE")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Model, s.MessageCount, title)
	}
	return tw.Flush()
}
