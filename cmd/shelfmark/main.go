package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/config"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
	"github.com/shelfmark/shelfmark/internal/outfmt"
	"github.com/shelfmark/shelfmark/internal/ui"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	flagConfig string
	flagOutput string
	flagColor  string

	cfg   *config.Config
	appUI *ui.UI
)

var rootCmd = &cobra.Command{
	Use:   "shelfmark",
	Short: "Mirror an OPDS catalog as lightweight placeholder books",
	Long: `Shelfmark keeps a reading library in step with an OPDS catalog without
downloading it. Every catalog book appears on disk as a small placeholder
file carrying its own metadata; opening one fetches the real content and
swaps it into place.

The library lives under a single base directory, organized as
Author/Series/NNN_Author_-_Title.ext with standalone books under a
"standalones" folder. State (store, cache, journal, search index) lives
in a hidden .shelfmark directory inside the base.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		appUI, err = ui.New(ui.Options{Color: flagColor})
		if err != nil {
			return err
		}
		mode, err := outfmt.Parse(flagOutput)
		if err != nil {
			return err
		}
		cmd.SetContext(outfmt.WithMode(cmd.Context(), mode))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default $XDG_CONFIG_HOME/shelfmark/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output format: text, json, or yaml")
	rootCmd.PersistentFlags().StringVar(&flagColor, "color", ui.ColorAuto, "Color mode: auto, always, or never")

	rootCmd.AddGroup(
		&cobra.Group{ID: "mirror", Title: "Mirror commands:"},
		&cobra.Group{ID: "query", Title: "Query commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced commands:"},
	)
}

// cliLogger returns a bare stderr logger for one-shot commands. The daemon
// uses its own timestamped logger.
func cliLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

// openStore loads the placeholder store for the configured library.
func openStore(logger *log.Logger) (*store.Store, error) {
	st := store.New(cfg.StorePath(), logger)
	if err := st.Load(); err != nil {
		return nil, err
	}
	return st, nil
}

// openIndex opens the configured search index backend. The caller owns
// Close.
func openIndex() (index.Datastore, error) {
	ds, err := index.New(cfg.Index.Backend)
	if err != nil {
		return nil, err
	}
	if err := ds.Initialize(cfg.IndexPath()); err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	return ds, nil
}

func main() {
	// Do not override environment provided by the runtime.
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
