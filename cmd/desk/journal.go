package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/frontdesk/internal/journal"
	"github.com/zulandar/frontdesk/internal/models"
)

func newJournalCmd() *cobra.Command {
	var (
		configPath string
		channelID  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent journal entries",
		Long:  "Prints the audit trail of channel lifecycle events, oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd, configPath, channelID, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to desk config file")
	cmd.Flags().StringVar(&channelID, "channel", "", "only entries for this channel or session id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max entries to show")
	return cmd
}

func runJournal(cmd *cobra.Command, configPath, channelID string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	_, gormDB, err := connectJournal(configPath)
	if err != nil {
		return err
	}

	var entries []models.JournalEntry
	if channelID != "" {
		entries, err = journal.ForChannel(gormDB, channelID, limit)
	} else {
		entries, err = journal.Recent(gormDB, limit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No journal entries found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tCHANNEL\tSESSION\tSENDER\tTEXT")
	for _, e := range entries {
		text := e.Text
		if text == "" {
			text = e.Detail
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Kind, dash(e.ChannelID),
			dash(e.SessionID), dash(e.Sender), truncate(text, 50))
	}
	w.Flush()
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to max runes, collapsing newlines.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
