// Package daemon provides the refresh daemon that watches registered
// content folders and keeps a store's pending index current.
//
// The pending index is process-local: when an external release process
// rewrites a folder's released-revisions manifest, or another process
// mutates the shared database, this process must refresh. The daemon
// covers both cases:
//  1. Watches each registered folder for manifest changes and refreshes
//     that folder's pending set
//  2. Surfaces authored content-file changes to the host via callback
//  3. Periodically refreshes every folder as a catch-all
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/draftvault/draftvault/internal/vault"
)

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often to refresh every folder regardless of
	// filesystem events
	RefreshInterval time.Duration

	// DebounceInterval is how long to wait before processing manifest
	// changes. This batches rapid rewrites together
	DebounceInterval time.Duration

	// OnContentChange, if set, is called for filesystem events on
	// non-manifest files inside a watched folder. The host decides
	// whether to re-import authored edits; the daemon never writes to
	// the store on its own
	OnContentChange func(folder, file string)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  30 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates folder watching and pending-index refreshes.
type Daemon struct {
	store  vault.Store
	config *Config

	watcher *fsnotify.Watcher

	foldersMu sync.RWMutex
	folders   map[string]string // path on disk -> normalized folder name

	refreshQueue   map[string]time.Time // folder name -> queued at
	refreshQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon for the given store.
//
// Add folders with Watch before calling Start.
func New(store vault.Store, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:        store,
		config:       config,
		watcher:      watcher,
		folders:      make(map[string]string),
		refreshQueue: make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Watch adds a registered folder to the watch set. The folder name must be
// the normalized name the store keys by, and folderPath its location on
// disk (both as produced by vault.NormalizeFolder).
func (d *Daemon) Watch(folder, folderPath string) error {
	if err := d.watcher.Add(folderPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", folder, err)
	}

	d.foldersMu.Lock()
	d.folders[filepath.Clean(folderPath)] = folder
	d.foldersMu.Unlock()

	d.config.Logger.Printf("Watching folder %s (%s)", folder, folderPath)
	return nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting refresh daemon")

	// Baseline refresh so the index is current before events arrive
	if err := d.store.RefreshAll(); err != nil {
		return fmt.Errorf("initial refresh failed: %w", err)
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processRefreshQueue()
	go d.periodicRefresh()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping refresh daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Refresh daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and classifies them.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			folder, ok := d.folderFor(event.Name)
			if !ok {
				continue
			}

			base := filepath.Base(event.Name)
			if base == vault.ManifestFile {
				d.config.Logger.Printf("Manifest event: %s %s", event.Op, folder)
				d.queueRefresh(folder)
				continue
			}
			if strings.HasPrefix(base, ".") {
				continue
			}

			if d.config.OnContentChange != nil {
				d.config.OnContentChange(folder, base)
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// folderFor maps an event path back to the watched folder containing it.
func (d *Daemon) folderFor(eventPath string) (string, bool) {
	dir := filepath.Clean(filepath.Dir(eventPath))

	d.foldersMu.RLock()
	defer d.foldersMu.RUnlock()
	folder, ok := d.folders[dir]
	return folder, ok
}

// queueRefresh adds a folder to the refresh queue with debouncing.
func (d *Daemon) queueRefresh(folder string) {
	d.refreshQueueMu.Lock()
	defer d.refreshQueueMu.Unlock()

	d.refreshQueue[folder] = time.Now()
}

// processRefreshQueue refreshes folders that have been queued for long
// enough.
func (d *Daemon) processRefreshQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processQueuedRefreshes()
		}
	}
}

// processQueuedRefreshes drains the debounced queue.
func (d *Daemon) processQueuedRefreshes() {
	d.refreshQueueMu.Lock()
	now := time.Now()
	var due []string
	for folder, queuedAt := range d.refreshQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = append(due, folder)
		delete(d.refreshQueue, folder)
	}
	d.refreshQueueMu.Unlock()

	for _, folder := range due {
		d.config.Logger.Printf("Refreshing folder %s", folder)
		if err := d.store.Refresh(folder); err != nil {
			d.config.Logger.Printf("Error refreshing %s: %v", folder, err)
		}
	}
}

// periodicRefresh refreshes every folder on a fixed interval, catching
// changes the watcher missed.
func (d *Daemon) periodicRefresh() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.store.RefreshAll(); err != nil {
				d.config.Logger.Printf("Error refreshing folders: %v", err)
			}
		}
	}
}
