package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var recentCmd = &cobra.Command{
	Use:     "recent",
	GroupID: "query",
	Short:   "Show recent mirror operations",
	Long: `List recent entries from the operation journal.

The journal records reconcile passes, downloads, adoptions, repairs, and
orphan removals. --since accepts natural language.

Examples:
  shelfmark recent
  shelfmark recent --limit 50
  shelfmark recent --since "2 days ago"
  shelfmark recent --since yesterday --output json`,
	RunE: runRecent,
}

func init() {
	recentCmd.Flags().Int("limit", 20, "Maximum number of entries")
	recentCmd.Flags().String("since", "", "Only entries after this time (natural language)")
	rootCmd.AddCommand(recentCmd)
}

func runRecent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetString("since")

	journal := daemon.NewJournal(cfg.JournalPath())

	var (
		entries []daemon.Entry
		err     error
	)
	if since != "" {
		cutoff, perr := parseSince(since)
		if perr != nil {
			return perr
		}
		entries, err = journal.Since(cutoff)
	} else {
		entries, err = journal.Recent(limit)
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	return outfmt.Write(ctx, appUI.Stdout(), entries, func(w io.Writer) error {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No journal entries")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-15s %s", e.Time.Format("2006-01-02 15:04:05"), e.Op, displayPath(e.Path))
			if e.Detail != "" {
				line += "  " + appUI.Dim(e.Detail)
			}
			fmt.Fprintln(w, line)
		}
		return nil
	})
}

// parseSince turns natural language like "2 days ago" into a cutoff time.
func parseSince(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since: %w", err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q (try \"2 days ago\")", text)
	}
	return r.Time, nil
}
