// Package dashboard event formatting: bridges store activity to broadcast
// messages.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/draftvault/draftvault/internal/vault"
)

// Handler formats content store events as dashboard messages. The host
// calls its On* methods after performing the corresponding store
// operations.
type Handler struct {
	server *Server
	store  vault.Store
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, store vault.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		store:  store,
		logger: logger,
	}
}

// OnRevisionRecorded handles a committed content write
func (h *Handler) OnRevisionRecorded(folder, file string) {
	h.logger.Printf("Revision recorded: %s/%s", folder, file)

	h.broadcastRevision(MessageTypeRevision, RevisionData{
		Folder: folder,
		File:   file,
	})
	h.broadcastPending()
}

// OnFileDeleted handles a committed soft-delete
func (h *Handler) OnFileDeleted(folder, file string) {
	h.logger.Printf("File deleted: %s/%s", folder, file)

	h.broadcastRevision(MessageTypeDelete, RevisionData{
		Folder:  folder,
		File:    file,
		Deleted: true,
	})
	h.broadcastPending()
}

// OnFileChanged handles a raw filesystem edit noticed by the watcher.
// Nothing was committed, so pending statistics are left alone.
func (h *Handler) OnFileChanged(folder, file string) {
	h.logger.Printf("File changed on disk: %s/%s", folder, file)

	h.broadcastRevision(MessageTypeFileChanged, RevisionData{
		Folder: folder,
		File:   file,
	})
}

// OnFolderRegistered handles a completed folder registration
func (h *Handler) OnFolderRegistered(folder, glob string) {
	pending := len(h.store.Pending()[folder])
	h.logger.Printf("Folder registered: %s (%d pending)", folder, pending)

	data, err := json.Marshal(RegisteredData{
		Folder:  folder,
		Glob:    glob,
		Pending: pending,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal registration data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeRegistered,
		Timestamp: time.Now(),
		Data:      data,
	})
	h.broadcastPending()
}

// OnRefresh handles a pending index refresh
func (h *Handler) OnRefresh() {
	h.broadcastPending()
}

// broadcastRevision sends a revision-shaped message.
func (h *Handler) broadcastRevision(typ MessageType, data RevisionData) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal revision data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      payload,
	})
}

// broadcastPending sends current pending statistics to all clients
func (h *Handler) broadcastPending() {
	data, err := json.Marshal(pendingStats(h.store))
	if err != nil {
		h.logger.Printf("Failed to marshal pending stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypePending,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// pendingStats summarizes a store's pending snapshot.
func pendingStats(store vault.Store) PendingStats {
	stats := PendingStats{
		ByName: make(map[string]int),
	}
	for folder, revisions := range store.Pending() {
		stats.Folders++
		stats.Total += len(revisions)
		stats.ByName[folder] = len(revisions)
	}
	return stats
}
