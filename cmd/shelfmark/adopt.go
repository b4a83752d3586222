package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/mirror/adopt"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var adoptCmd = &cobra.Command{
	Use:     "adopt",
	GroupID: "maint",
	Short:   "Rebuild the store from placeholders on disk",
	Long: `Scan the library for placeholder files the store does not know about
and adopt them.

Every placeholder carries its own metadata, so a store lost to corruption
or deletion is recovered from the files themselves. Real books never carry
the placeholder marker and are left alone.

Examples:
  # Preview what would be adopted
  shelfmark adopt --dry-run

  # Adopt, backing up the current store first
  shelfmark adopt

  # Skip the confirmation prompt
  shelfmark adopt --yes`,
	RunE: runAdopt,
}

func init() {
	adoptCmd.Flags().Bool("dry-run", false, "Report untracked placeholders without adopting")
	adoptCmd.Flags().Bool("backup", true, "Back up the store file before rewriting it")
	adoptCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(adoptCmd)
}

func runAdopt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backup, _ := cmd.Flags().GetBool("backup")
	yes, _ := cmd.Flags().GetBool("yes")

	if !dryRun && !yes && !outfmt.IsStructured(ctx) {
		var proceed bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Adopt untracked placeholders under %s?", cfg.Library.BaseDir)).
				Description("The store file will be rewritten.").
				Affirmative("Adopt").
				Negative("Cancel").
				Value(&proceed),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if !proceed {
			appUI.Println("Cancelled")
			return nil
		}
	}

	logger := cliLogger()
	st, err := openStore(logger)
	if err != nil {
		return err
	}
	ds, err := openIndex()
	if err != nil {
		return err
	}
	defer ds.Close()

	scanner, err := adopt.NewScanner(st, codec.NewCodec(), ds, logger)
	if err != nil {
		return err
	}

	result, err := scanner.Scan(ctx, adopt.Options{
		BaseDir: cfg.Library.BaseDir,
		DryRun:  dryRun,
		Backup:  backup,
	})
	if err != nil {
		return err
	}

	if result.Adopted > 0 && !dryRun {
		journal := daemon.NewJournal(cfg.JournalPath())
		if err := journal.Record(daemon.JournalAdoption, cfg.Library.BaseDir, result.Summary()); err != nil {
			logger.Printf("WARNING: Failed to journal adoption: %v", err)
		}
	}

	return outfmt.Write(ctx, appUI.Stdout(), result, func(w io.Writer) error {
		marker := appUI.Pass("✓")
		if len(result.Errors) > 0 {
			marker = appUI.Warn("⚠")
		}
		verb := "Adopted"
		if dryRun {
			verb = "Would adopt"
		}
		fmt.Fprintf(w, "%s %s %d of %d scanned files\n", marker, verb, result.Adopted, result.Scanned)
		if result.BackupCreated != "" {
			fmt.Fprintf(w, "   Store backed up to %s\n", result.BackupCreated)
		}
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "   %s %s\n", appUI.Warn("⚠"), msg)
		}
		return nil
	})
}
