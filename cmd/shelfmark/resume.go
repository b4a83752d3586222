package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var resumeCmd = &cobra.Command{
	Use:     "resume",
	GroupID: "mirror",
	Short:   "Show or consume a pending restart checkpoint",
	Long: `Inspect the restart checkpoint left by a replacement that requested a
host restart.

Without flags the checkpoint is shown and left in place. With --ack it is
consumed the way the daemon does at startup: a fresh checkpoint is
acknowledged and journaled, a stale one is discarded.

Examples:
  shelfmark resume
  shelfmark resume --ack`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().Bool("ack", false, "Consume the checkpoint instead of showing it")
	rootCmd.AddCommand(resumeCmd)
}

type resumeReport struct {
	Pending  bool   `json:"pending" yaml:"pending"`
	BookPath string `json:"book_path,omitempty" yaml:"book_path,omitempty"`
	AgeSec   int64  `json:"age_seconds,omitempty" yaml:"age_seconds,omitempty"`
	Fresh    bool   `json:"fresh,omitempty" yaml:"fresh,omitempty"`
	Consumed bool   `json:"consumed,omitempty" yaml:"consumed,omitempty"`
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ack, _ := cmd.Flags().GetBool("ack")
	logger := cliLogger()

	if ack {
		manager := checkpoint.NewManager(cfg.CheckpointPath(), logger)
		cp, err := manager.Consume()
		if err != nil {
			return fmt.Errorf("failed to consume checkpoint: %w", err)
		}
		report := resumeReport{}
		if cp != nil {
			report = resumeReport{Pending: true, BookPath: cp.BookPath, Fresh: true, Consumed: true}
			journal := daemon.NewJournal(cfg.JournalPath())
			if err := journal.Record(daemon.JournalResume, cp.BookPath, "restart checkpoint consumed"); err != nil {
				logger.Printf("WARNING: Failed to journal resume: %v", err)
			}
		}
		return outfmt.Write(ctx, appUI.Stdout(), report, func(w io.Writer) error {
			if cp == nil {
				fmt.Fprintln(w, "No fresh checkpoint to consume")
				return nil
			}
			fmt.Fprintf(w, "%s Resumed: %s\n", appUI.Pass("✓"), displayPath(cp.BookPath))
			return nil
		})
	}

	data, err := os.ReadFile(cfg.CheckpointPath())
	if err != nil {
		if os.IsNotExist(err) {
			return outfmt.Write(ctx, appUI.Stdout(), resumeReport{}, func(w io.Writer) error {
				fmt.Fprintln(w, "No restart checkpoint pending")
				return nil
			})
		}
		return err
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("checkpoint file is unreadable: %w", err)
	}

	age := time.Since(cp.Timestamp)
	report := resumeReport{
		Pending:  true,
		BookPath: cp.BookPath,
		AgeSec:   int64(age.Seconds()),
		Fresh:    age <= checkpoint.DefaultFreshness,
	}
	return outfmt.Write(ctx, appUI.Stdout(), report, func(w io.Writer) error {
		state := appUI.Pass("fresh")
		if !report.Fresh {
			state = appUI.Warn("stale")
		}
		fmt.Fprintf(w, "Checkpoint: %s\n", displayPath(cp.BookPath))
		fmt.Fprintf(w, "Written:    %s (%s, %s)\n",
			cp.Timestamp.Format("2006-01-02 15:04:05"), age.Round(time.Second), state)
		fmt.Fprintf(w, "Folder:     %s\n", cp.FolderPath)
		return nil
	})
}
