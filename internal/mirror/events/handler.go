package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/reconcile"
	"github.com/shelfmark/shelfmark/internal/mirror/workflow"
)

// Handler turns mirror activity into feed messages. It is the glue between
// the reconcile engine's callbacks, the download workflow's state observer,
// and the WebSocket server.
//
// Handlers may be called from several goroutines at once; the stats are
// guarded accordingly.
type Handler struct {
	server *Server
	logger *log.Logger

	statsMu sync.Mutex
	stats   StatsData
}

// NewHandler creates a new event handler connected to an events server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnReconcileProgress forwards engine progress. Suitable for use as
// reconcile.Config.OnProgress.
func (h *Handler) OnReconcileProgress(p reconcile.Progress) {
	// No logging here, a large library produces thousands of these.
	data := ReconcileProgressData{
		Phase: p.Phase,
		Done:  p.Done,
		Total: p.Total,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal progress data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeReconcileProgress,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnReconcileComplete reports a finished pass and folds its counts into
// the running stats.
func (h *Handler) OnReconcileComplete(result *reconcile.Result) {
	if result == nil {
		return
	}
	h.logger.Printf("Reconcile complete: %s", result.Summary())

	// Created entries are fresh placeholders; removed orphans were
	// placeholders too.
	h.statsMu.Lock()
	h.stats.Total += result.Created - result.DeletedOrphans
	h.stats.Placeholders += result.Created - result.DeletedOrphans
	h.statsMu.Unlock()

	data := ReconcileCompleteData{
		Created:        result.Created,
		Updated:        result.Updated,
		Skipped:        result.Skipped,
		Failed:         result.Failed,
		DeletedOrphans: result.DeletedOrphans,
		Duration:       result.Duration,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal reconcile data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeReconcileComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.broadcastStats()
}

// OnDownloadState reports one placeholder replacement moving between
// states.
func (h *Handler) OnDownloadState(bookID, path string, state workflow.State) {
	h.logger.Printf("Download %s: %s (%s)", state, path, bookID)

	if state == workflow.StateReplaced {
		h.statsMu.Lock()
		h.stats.Placeholders--
		h.stats.Downloaded++
		h.statsMu.Unlock()
	}

	data := DownloadUpdateData{
		BookID: bookID,
		Path:   path,
		State:  state.String(),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal download data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeDownloadUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	if state == workflow.StateReplaced {
		h.broadcastStats()
	}
}

// DownloadObserver binds a book to OnDownloadState so the closure can be
// handed to workflow.Config.OnState.
func (h *Handler) DownloadObserver(bookID, path string) func(workflow.State) {
	return func(state workflow.State) {
		h.OnDownloadState(bookID, path, state)
	}
}

// OnAdoption reports an untracked placeholder joining the store.
func (h *Handler) OnAdoption(path, bookID string) {
	h.logger.Printf("Adopted placeholder: %s", path)

	h.statsMu.Lock()
	h.stats.Total++
	h.stats.Placeholders++
	h.statsMu.Unlock()

	data := AdoptionData{
		Path:   path,
		BookID: bookID,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal adoption data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeAdoption,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.broadcastStats()
}

// UpdateStats seeds the counters from an index scan. Useful at startup and
// for periodic refresh, after which events keep them current incrementally.
func (h *Handler) UpdateStats(total, placeholders, downloaded int) {
	h.statsMu.Lock()
	h.stats = StatsData{
		Total:        total,
		Placeholders: placeholders,
		Downloaded:   downloaded,
	}
	h.statsMu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()

	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
