package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/reconcile"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "mirror",
	Short:   "Reconcile the library against the catalog",
	Long: `Crawl the OPDS catalog and reconcile the library against it.

The pass removes placeholders for books the catalog no longer lists, then
walks the listing: new books get placeholders, moved or retitled books are
relocated, stale metadata is rewritten. Real downloaded books are never
touched. The search index is kept in step and pruned of entries whose
files are gone.

Examples:
  # Full reconcile pass
  shelfmark sync

  # Report what would change without writing
  shelfmark sync --dry-run

  # Rebuild the search index from the store afterwards
  shelfmark sync --rebuild-index`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Report changes without writing anything")
	syncCmd.Flags().Int("depth", 3, "Maximum catalog crawl depth")
	syncCmd.Flags().Bool("rebuild-index", false, "Clear and rebuild the search index from the store")
	syncCmd.Flags().BoolP("yes", "y", false, "Proceed even when the catalog lists no books")
	rootCmd.AddCommand(syncCmd)
}

// newCatalogClient builds the OPDS client from the loaded configuration.
func newCatalogClient() (*catalog.OPDSClient, error) {
	if cfg.Catalog.URL == "" {
		return nil, fmt.Errorf("catalog.url is not configured (run 'shelfmark config login')")
	}
	creds := catalog.Credentials{
		Username: cfg.Catalog.Username,
		Password: cfg.Catalog.Password,
	}
	return catalog.NewOPDSClient(cfg.Catalog.URL, creds, cfg.Catalog.RequestsPerSecond, cfg.Catalog.MaxRetries), nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	depth, _ := cmd.Flags().GetInt("depth")
	rebuild, _ := cmd.Flags().GetBool("rebuild-index")
	yes, _ := cmd.Flags().GetBool("yes")

	client, err := newCatalogClient()
	if err != nil {
		return err
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

	text := !outfmt.IsStructured(ctx)
	if text {
		appUI.Printf("%s Crawling %s\n", appUI.Accent("🔄"), cfg.Catalog.URL)
	}
	books, err := client.Crawl(ctx, depth)
	if err != nil {
		return fmt.Errorf("catalog crawl failed: %w", err)
	}
	if text {
		appUI.Printf("   %d books listed\n", len(books))
	}

	// An empty listing against a populated store orphan-deletes every
	// placeholder. That is almost always a wrong URL or a failed login.
	if len(books) == 0 && st.Len() > 0 && !dryRun && !yes {
		if !text {
			return fmt.Errorf("catalog listed no books but %d placeholders are tracked; pass --yes to remove them all", st.Len())
		}
		var proceed bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("The catalog listed no books. Remove all %d tracked placeholders?", st.Len())).
				Description("An empty listing usually means a wrong catalog URL or failed login.").
				Affirmative("Remove").
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

	progressShown := false
	engine, err := reconcile.New(st, codec.NewCodec(), reconcile.Config{
		BaseDir: cfg.Library.BaseDir,
		DryRun:  dryRun,
		Index:   ds,
		OnProgress: func(p reconcile.Progress) {
			if text {
				appUI.Printf("\r   %s: %d/%d", p.Phase, p.Done, p.Total)
				progressShown = true
			}
		},
	}, logger)
	if err != nil {
		return err
	}

	result, reconcileErr := engine.Reconcile(ctx, books)
	if progressShown {
		appUI.Println()
	}
	if result != nil && !dryRun {
		journal := daemon.NewJournal(cfg.JournalPath())
		if err := journal.Record(daemon.JournalReconcile, cfg.Library.BaseDir, result.Summary()); err != nil {
			logger.Printf("WARNING: Failed to journal reconcile: %v", err)
		}
	}
	if reconcileErr != nil {
		return reconcileErr
	}

	if !dryRun {
		if rebuild {
			n, err := rebuildIndex(ctx, st, ds)
			if err != nil {
				return fmt.Errorf("index rebuild failed: %w", err)
			}
			if text {
				appUI.Printf("   %s Reindexed %d books\n", appUI.Pass("✓"), n)
			}
		}
		if pruned, err := ds.RemoveStaleEntries(ctx); err != nil {
			logger.Printf("WARNING: Failed to prune stale index entries: %v", err)
		} else if pruned > 0 && text {
			appUI.Printf("   Pruned %d stale index entries\n", pruned)
		}
	}

	return outfmt.Write(ctx, appUI.Stdout(), result, func(w io.Writer) error {
		marker := appUI.Pass("✓")
		if result.Failed > 0 {
			marker = appUI.Warn("⚠")
		}
		fmt.Fprintf(w, "%s Reconcile complete: %s\n", marker, result.Summary())
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "   %s %s\n", appUI.Warn("⚠"), msg)
		}
		return nil
	})
}

// rebuildIndex drops the index and re-records every tracked placeholder.
// The reconcile pass only touches records for books it changed, so a full
// rebuild walks the store directly.
func rebuildIndex(ctx context.Context, st *store.Store, ds index.Datastore) (int, error) {
	if err := ds.Clear(ctx); err != nil {
		return 0, err
	}
	cdc := codec.NewCodec()

	paths := st.Paths()
	batch := make([]index.Record, 0, len(paths))
	for _, path := range paths {
		meta, ok := st.Get(path)
		if !ok {
			continue
		}
		placeholder := true
		if is, err := cdc.IsPlaceholder(path); err == nil {
			placeholder = is
		}
		batch = append(batch, index.RecordFrom(path, meta, placeholder))
	}
	if len(batch) == 0 {
		return 0, nil
	}
	return len(batch), ds.IndexBatch(ctx, batch)
}
