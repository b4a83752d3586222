package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/mirror/events"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: "advanced",
	Short:   "Start the standalone WebSocket event feed",
	Long: `Start a WebSocket feed server for monitoring mirror activity.

The feed broadcasts reconcile progress, download state changes, adoptions,
and library statistics to connected clients. Running it standalone is
useful for dashboard development; the daemon embeds the same server when
events are enabled.

Message types:
- reconcile_progress: a reconcile pass advancing through a phase
- reconcile_complete: a finished reconcile pass
- download_update: a placeholder replacement moving between states
- adoption: an untracked placeholder joining the store
- stats: library counts (total, placeholders, downloaded)

Example usage:
  shelfmark events                # Start on the configured port
  shelfmark events --port 9000    # Start on a custom port

Connect with a WebSocket client:
  ws://localhost:8090/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Events.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		server := events.NewServer(&events.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[events] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start events server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Events server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-cmd.Context().Done()

		fmt.Println("\nShutting down events server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Events server stopped")
	},
}

func init() {
	eventsCmd.Flags().IntP("port", "p", 8090, "Port to listen on")
	rootCmd.AddCommand(eventsCmd)
}
