package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/daemon"
	"github.com/shelfmark/shelfmark/internal/mirror/events"
	"github.com/shelfmark/shelfmark/internal/mirror/reconcile"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "mirror",
	Short:   "Run the mirror daemon (foreground)",
	Long: `Run the background mirror daemon in the foreground.

The daemon takes the library lock, consumes any fresh restart checkpoint,
performs an initial reconcile, then watches the library tree: deleted
placeholders are recreated, untracked ones adopted, and a full reconcile
runs on a timer. With events enabled, progress and statistics are
broadcast over WebSocket for dashboards.

Examples:
  shelfmark daemon
  shelfmark daemon --depth 5
  shelfmark daemon --events=false`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Int("depth", 3, "Maximum catalog crawl depth")
	daemonCmd.Flags().Bool("events", true, "Broadcast progress over the WebSocket feed")
	rootCmd.AddCommand(daemonCmd)
}

// catalogSource adapts the OPDS client to the daemon's book listing.
type catalogSource struct {
	client *catalog.OPDSClient
	depth  int
}

func (s catalogSource) Books(ctx context.Context) ([]catalog.Book, error) {
	return s.client.Crawl(ctx, s.depth)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	depth, _ := cmd.Flags().GetInt("depth")

	eventsOn := cfg.Events.Enabled
	if cmd.Flags().Changed("events") {
		eventsOn, _ = cmd.Flags().GetBool("events")
	}

	client, err := newCatalogClient()
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "[shelfmark] ", log.LstdFlags)
	st, err := openStore(logger)
	if err != nil {
		return err
	}
	ds, err := openIndex()
	if err != nil {
		return err
	}
	defer ds.Close()

	var feed *events.Server
	var bridge *events.Handler
	if eventsOn {
		feed = events.NewServer(&events.Config{Port: cfg.Events.Port, Logger: logger})
		if err := feed.Start(); err != nil {
			return fmt.Errorf("failed to start events server: %w", err)
		}
		defer func() {
			if err := feed.Stop(); err != nil {
				logger.Printf("Error stopping events server: %v", err)
			}
		}()
		bridge = events.NewHandler(feed, logger)
		if stats, err := ds.Stats(ctx); err == nil {
			bridge.UpdateStats(stats.Total, stats.Placeholders, stats.Downloaded)
		}
	}

	rcfg := reconcile.Config{
		BaseDir: cfg.Library.BaseDir,
		Index:   ds,
	}
	if bridge != nil {
		rcfg.OnProgress = bridge.OnReconcileProgress
	}
	engine, err := reconcile.New(st, codec.NewCodec(), rcfg, logger)
	if err != nil {
		return err
	}

	var rec reconcile.Reconciler = engine
	if bridge != nil {
		rec = eventedReconciler{Reconciler: engine, store: st, bridge: bridge}
	}

	checkpoints := checkpoint.NewManager(cfg.CheckpointPath(), logger)
	journal := daemon.NewJournal(cfg.JournalPath())

	dcfg := daemon.DefaultConfig()
	dcfg.ReconcileInterval = cfg.Daemon.ReconcileInterval
	dcfg.DebounceInterval = cfg.Daemon.DebounceInterval
	dcfg.Logger = logger

	d, err := daemon.New(cfg.Library.BaseDir, catalogSource{client, depth}, rec, checkpoints, journal, dcfg)
	if err != nil {
		return err
	}

	appUI.Printf("%s Starting shelfmark daemon\n", appUI.Accent("🚀"))
	appUI.Printf("   Library: %s\n", cfg.Library.BaseDir)
	appUI.Printf("   Catalog: %s\n", cfg.Catalog.URL)
	appUI.Printf("   Index:   %s (%s)\n", cfg.Index.Backend, cfg.IndexPath())
	if feed != nil {
		appUI.Printf("   Events:  ws://localhost:%d/ws\n", cfg.Events.Port)
	}
	appUI.Printf("\nPress Ctrl+C to stop\n\n")

	if err := d.Start(ctx); err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return fmt.Errorf("another daemon is already running for %s", cfg.Library.BaseDir)
		}
		return err
	}
	return nil
}

// eventedReconciler forwards pass results and adoptions to the feed while
// delegating the work itself.
type eventedReconciler struct {
	reconcile.Reconciler
	store  *store.Store
	bridge *events.Handler
}

func (r eventedReconciler) Reconcile(ctx context.Context, books []catalog.Book) (*reconcile.Result, error) {
	result, err := r.Reconciler.Reconcile(ctx, books)
	if result != nil {
		r.bridge.OnReconcileComplete(result)
	}
	return result, err
}

func (r eventedReconciler) AdoptPath(ctx context.Context, path string) (bool, error) {
	adopted, err := r.Reconciler.AdoptPath(ctx, path)
	if adopted {
		bookID := ""
		if meta, ok := r.store.Get(path); ok {
			bookID = meta.BookID
		}
		r.bridge.OnAdoption(path, bookID)
	}
	return adopted, err
}
