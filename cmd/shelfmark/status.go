package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show library and daemon status",
	Long: `Display the state of the mirrored library.

Shows:
  - Tracked placeholder count and store file details
  - Search index counts split by placeholder status
  - Whether a daemon holds the library lock
  - Any pending restart checkpoint
  - The most recent journal entry`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	BaseDir      string `json:"base_dir" yaml:"base_dir"`
	Tracked      int    `json:"tracked" yaml:"tracked"`
	StoreSize    int64  `json:"store_size_bytes" yaml:"store_size_bytes"`
	IndexBackend string `json:"index_backend" yaml:"index_backend"`
	IndexTotal   int    `json:"index_total" yaml:"index_total"`
	Placeholders int    `json:"index_placeholders" yaml:"index_placeholders"`
	Downloaded   int    `json:"index_downloaded" yaml:"index_downloaded"`
	DaemonUp     bool   `json:"daemon_running" yaml:"daemon_running"`
	Checkpoint   string `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	LastOp       string `json:"last_op,omitempty" yaml:"last_op,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := cliLogger()

	st, err := openStore(logger)
	if err != nil {
		return err
	}

	report := statusReport{
		BaseDir:      cfg.Library.BaseDir,
		Tracked:      st.Len(),
		IndexBackend: cfg.Index.Backend,
	}

	if info, err := os.Stat(cfg.StorePath()); err == nil {
		report.StoreSize = info.Size()
	}

	if ds, err := openIndex(); err == nil {
		if stats, err := ds.Stats(ctx); err == nil {
			report.IndexTotal = stats.Total
			report.Placeholders = stats.Placeholders
			report.Downloaded = stats.Downloaded
		}
		ds.Close()
	}

	report.DaemonUp = daemonRunning()
	report.Checkpoint = pendingCheckpoint()

	journal := daemon.NewJournal(cfg.JournalPath())
	if entries, err := journal.Recent(1); err == nil && len(entries) > 0 {
		e := entries[0]
		report.LastOp = fmt.Sprintf("%s %s (%s)", e.Op, e.Path, e.Time.Format("2006-01-02 15:04:05"))
	}

	return outfmt.Write(ctx, appUI.Stdout(), report, func(w io.Writer) error {
		fmt.Fprintf(w, "\n%s Library Status\n\n", appUI.Accent("📊"))
		fmt.Fprintf(w, "Base:         %s\n", report.BaseDir)
		fmt.Fprintf(w, "Placeholders: %d tracked (store %s)\n", report.Tracked, humanBytes(report.StoreSize))
		fmt.Fprintf(w, "Index:        %s, %d books (%d placeholders, %d downloaded)\n",
			report.IndexBackend, report.IndexTotal, report.Placeholders, report.Downloaded)
		if report.DaemonUp {
			fmt.Fprintf(w, "Daemon:       %s\n", appUI.Pass("running"))
		} else {
			fmt.Fprintf(w, "Daemon:       %s\n", appUI.Dim("not running"))
		}
		if report.Checkpoint != "" {
			fmt.Fprintf(w, "Checkpoint:   %s\n", appUI.Warn(report.Checkpoint))
		}
		if report.LastOp != "" {
			fmt.Fprintf(w, "Last op:      %s\n", report.LastOp)
		}
		fmt.Fprintln(w)
		return nil
	})
}

// daemonRunning probes the library lock. Taking and releasing it is
// harmless when no daemon holds it.
func daemonRunning() bool {
	lock, err := daemon.Acquire(filepath.Join(cfg.StateDir(), "daemon.lock"))
	if err != nil {
		return errors.Is(err, daemon.ErrLocked)
	}
	_ = lock.Release()
	return false
}

// pendingCheckpoint describes a restart checkpoint without consuming it.
func pendingCheckpoint() string {
	data, err := os.ReadFile(cfg.CheckpointPath())
	if err != nil {
		return ""
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return "unreadable checkpoint file"
	}
	age := time.Since(cp.Timestamp).Round(time.Second)
	if age > checkpoint.DefaultFreshness {
		return fmt.Sprintf("stale (%s old, %s)", age, cp.BookPath)
	}
	return fmt.Sprintf("pending for %s (%s old)", cp.BookPath, age)
}

// humanBytes renders a byte count for terminal display.
func humanBytes(n int64) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
