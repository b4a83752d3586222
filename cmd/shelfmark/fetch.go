package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/cache"
	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
	"github.com/shelfmark/shelfmark/internal/mirror/workflow"
	"github.com/shelfmark/shelfmark/internal/outfmt"
	"github.com/shelfmark/shelfmark/internal/shortcut"
)

var fetchCmd = &cobra.Command{
	Use:     "fetch [path]",
	GroupID: "mirror",
	Short:   "Replace a placeholder with the real book",
	Long: `Download the real content behind a placeholder and swap it into place.

With no path, an interactive picker lists every tracked placeholder. The
download is verified for size before the placeholder is deleted; a failed
swap leaves the downloaded payload on disk for manual recovery.

Examples:
  # Pick a placeholder interactively
  shelfmark fetch

  # Fetch one path directly
  shelfmark fetch "Herbert/Dune/001_Herbert_-_Dune.epub"

  # Write a restart checkpoint for the daemon instead of opening
  shelfmark fetch --restart "Herbert/Dune/001_Herbert_-_Dune.epub"

  # Ask the ephemera service to fetch it server-side instead
  shelfmark fetch --request "Herbert/Dune/001_Herbert_-_Dune.epub"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Bool("restart", false, "Request a host restart; the daemon resumes from the checkpoint")
	fetchCmd.Flags().Bool("request", false, "Queue the book on the ephemera service instead of downloading")
	rootCmd.AddCommand(fetchCmd)
}

// fetchReport is the structured rendering of a completed replacement.
type fetchReport struct {
	State            string `json:"state" yaml:"state"`
	Path             string `json:"path" yaml:"path"`
	Bytes            int64  `json:"bytes" yaml:"bytes"`
	DurationMs       int64  `json:"duration_ms" yaml:"duration_ms"`
	RestartRequested bool   `json:"restart_requested" yaml:"restart_requested"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	restart, _ := cmd.Flags().GetBool("restart")
	request, _ := cmd.Flags().GetBool("request")

	logger := cliLogger()
	st, err := openStore(logger)
	if err != nil {
		return err
	}

	var target string
	if len(args) == 1 {
		target = args[0]
		if !filepath.IsAbs(target) {
			target = filepath.Join(cfg.Library.BaseDir, target)
		}
	} else {
		if outfmt.IsStructured(ctx) {
			return fmt.Errorf("a path argument is required with --output json|yaml")
		}
		target, err = pickPlaceholder(st)
		if err != nil {
			return err
		}
	}

	if request {
		return runFetchRequest(ctx, logger, st, target)
	}

	client, err := newCatalogClient()
	if err != nil {
		return err
	}

	ds, err := openIndex()
	if err != nil {
		return err
	}
	defer ds.Close()

	metaCache := cache.New(cfg.CachePath(), cache.DefaultConfig(), logger)
	if err := metaCache.Load(); err != nil {
		return err
	}
	defer func() {
		if err := metaCache.Persist(); err != nil {
			logger.Printf("WARNING: Failed to persist cache: %v", err)
		}
	}()

	wfCfg := workflow.Config{
		Cache: metaCache,
		Index: ds,
		OnState: func(s workflow.State) {
			if !outfmt.IsStructured(ctx) {
				appUI.Printf("   %s\n", appUI.Dim(s.String()))
			}
		},
	}
	if cfg.Shortcuts.Enabled {
		mgr, err := shortcut.New(shortcut.Config{
			Dir:      cfg.ShortcutDir(),
			MaxCount: cfg.Shortcuts.MaxCount,
		}, logger)
		if err != nil {
			logger.Printf("WARNING: Shortcuts disabled: %v", err)
		} else {
			wfCfg.Shortcuts = mgr
		}
	}
	if restart {
		wfCfg.Restart = func(context.Context) error {
			appUI.Printf("   %s Restart requested; checkpoint written\n", appUI.Accent("🔄"))
			return nil
		}
	}

	checkpoints := checkpoint.NewManager(cfg.CheckpointPath(), logger)
	wf, err := workflow.New(st, codec.NewCodec(), checkpoints, client, wfCfg, logger)
	if err != nil {
		return err
	}

	result, err := wf.Run(ctx, target)
	if err != nil {
		return err
	}

	journal := daemon.NewJournal(cfg.JournalPath())
	detail := fmt.Sprintf("%s in %s", humanBytes(result.BytesFetched), result.Duration.Round(time.Millisecond))
	if err := journal.Record(daemon.JournalDownload, result.BookPath, detail); err != nil {
		logger.Printf("WARNING: Failed to journal download: %v", err)
	}

	report := fetchReport{
		State:            result.State.String(),
		Path:             result.BookPath,
		Bytes:            result.BytesFetched,
		DurationMs:       result.Duration.Milliseconds(),
		RestartRequested: result.RestartRequested,
	}
	return outfmt.Write(ctx, appUI.Stdout(), report, func(w io.Writer) error {
		rel := displayPath(result.BookPath)
		fmt.Fprintf(w, "%s Replaced %s (%s in %s)\n",
			appUI.Pass("✓"), rel, humanBytes(result.BytesFetched), result.Duration.Round(time.Millisecond))
		if result.RestartRequested {
			fmt.Fprintf(w, "   Checkpoint: %s\n", cfg.CheckpointPath())
		}
		return nil
	})
}

// requestReport is the structured rendering of an ephemera request.
type requestReport struct {
	Title  string `json:"title" yaml:"title"`
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	MD5    string `json:"md5" yaml:"md5"`
	Size   string `json:"size,omitempty" yaml:"size,omitempty"`
	Queued int    `json:"queued,omitempty" yaml:"queued,omitempty"`
}

// runFetchRequest asks the ephemera service to fetch the book server-side.
// The download lands in the catalog, not here; a later sync picks it up.
func runFetchRequest(ctx context.Context, logger *log.Logger, st *store.Store, target string) error {
	if cfg.Ephemera.URL == "" {
		return fmt.Errorf("ephemera.url is not configured")
	}
	meta, ok := st.Get(target)
	if !ok {
		return fmt.Errorf("not a tracked placeholder: %s", displayPath(target))
	}

	client := catalog.NewEphemeraClient(cfg.Ephemera.URL, cfg.Ephemera.RequestsPerSecond, cfg.Ephemera.MaxRetries)
	best, found, err := client.BestMatch(ctx, meta.Title)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no close match for %q on the ephemera service", meta.Title)
	}
	if err := client.RequestDownload(ctx, best.MD5, best.Title); err != nil {
		return err
	}

	queued := 0
	if items, err := client.Queue(ctx); err != nil {
		logger.Printf("WARNING: Failed to read download queue: %v", err)
	} else {
		queued = len(items)
	}

	report := requestReport{
		Title:  best.Title,
		Author: best.Author,
		MD5:    best.MD5,
		Size:   best.Size,
		Queued: queued,
	}
	return outfmt.Write(ctx, appUI.Stdout(), report, func(w io.Writer) error {
		fmt.Fprintf(w, "%s Requested %s", appUI.Pass("✓"), best.Title)
		if best.Size != "" {
			fmt.Fprintf(w, " (%s)", best.Size)
		}
		fmt.Fprintln(w)
		if queued > 0 {
			fmt.Fprintf(w, "   %d in queue; the book arrives via the catalog on a later sync\n", queued)
		} else {
			fmt.Fprintf(w, "   The book arrives via the catalog on a later sync\n")
		}
		return nil
	})
}

// pickPlaceholder runs an interactive picker over every tracked
// placeholder.
func pickPlaceholder(st *store.Store) (string, error) {
	paths := st.Paths()
	if len(paths) == 0 {
		return "", fmt.Errorf("no placeholders tracked; run 'shelfmark sync' first")
	}

	opts := make([]huh.Option[string], 0, len(paths))
	for _, path := range paths {
		meta, ok := st.Get(path)
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s by %s (%s)", meta.Title, meta.Author, displayPath(path))
		opts = append(opts, huh.NewOption(label, path))
	}

	var target string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Fetch which book?").
			Options(opts...).
			Value(&target),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return target, nil
}

// displayPath renders a library path relative to the base when possible.
func displayPath(path string) string {
	rel, err := filepath.Rel(cfg.Library.BaseDir, path)
	if err != nil || filepath.IsAbs(rel) {
		return path
	}
	return rel
}
