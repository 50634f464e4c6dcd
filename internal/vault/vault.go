// Package vault provides a revision-tracked content store that keeps text
// files, organized into named folders, consistent between a SQLite database
// and a filesystem tree.
//
// The durable implementation records every mutation (write or soft-delete)
// as an immutable revision row inside the same transaction as the content
// change. Revisions not yet listed in a folder's released-revisions manifest
// are "pending": they take precedence over filesystem state during
// registration, and they are what export tooling packages for release.
//
// Workflow:
//  1. Host registers folders (triggering reconciliation against the
//     manifest and the filesystem)
//  2. Host reads/writes/deletes files; each mutation is logged
//  3. Export tooling queries the pending index to retrieve exactly the
//     unreleased changes
//
// When durable tracking is disabled, a transparent filesystem-only
// implementation serves the same contract with no history and no pending
// tracking.
package vault

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/draftvault/draftvault/internal/vault/db"
)

// ManifestFile is the per-folder released-revisions manifest, produced by
// an external release process. One revision token per line; blank lines and
// lines starting with '#' are ignored.
const ManifestFile = ".released-revisions"

// revisionAuthor is the fixed actor identity recorded on every revision.
const revisionAuthor = "server"

// Revision is one committed mutation to a file's content.
type Revision struct {
	Folder    string    `json:"folder"`
	File      string    `json:"file"`
	Token     string    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// FileState is the current stored state of a single file, as packaged for
// export. Content is nil for tombstones.
type FileState struct {
	File    string `json:"file"`
	Content []byte `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// FolderChanges groups the unreleased payload for one folder: the current
// state of every file touched by a pending revision, and the distinct
// pending revision tokens.
type FolderChanges struct {
	Files     []FileState `json:"files"`
	Revisions []string    `json:"revisions"`
}

// Store is the operation contract served by both the durable and the
// transparent implementations. Callers must not depend on which variant is
// active; the transparent variant simply offers weaker guarantees (no
// history, no pending tracking, writes are immediately authoritative on
// disk).
type Store interface {
	// Register tracks a folder and reconciles it: released revisions are
	// purged, pending revisions are indexed, and only if nothing is
	// pending is the stored content forced to mirror the filesystem files
	// matching glob.
	Register(rootFolder, glob string) error

	// Read returns the current content of a file. Fails with ErrNotFound
	// if the file is absent or tombstoned.
	Read(folder, file string) ([]byte, error)

	// RecordRevision writes content and appends a revision record in one
	// transaction. Writing byte-identical content is a no-op.
	RecordRevision(folder, file string, content []byte) error

	// SoftDelete tombstones a file and appends a revision record in one
	// transaction. Fails with ErrNotFound if no live file exists.
	SoftDelete(folder, file string) error

	// List returns the live (non-deleted) file names in a folder, ordered,
	// optionally filtered to names ending with suffix.
	List(folder, suffix string) ([]string, error)

	// Pending returns a snapshot of the pending revisions per folder.
	Pending() map[string][]Revision

	// PendingWithContent pairs each folder's pending revisions with the
	// current content of the files they reference.
	PendingWithContent() (map[string]FolderChanges, error)

	// Refresh recomputes the pending set for one folder from the manifest
	// and the revision log, without reconciliation side effects.
	Refresh(folder string) error

	// RefreshAll refreshes every registered folder.
	RefreshAll() error

	// Close releases the underlying database handle, if any.
	Close() error
}

// Config holds store construction options.
type Config struct {
	// ProjectRoot anchors folder name normalization. All folder keys are
	// derived relative to this directory.
	ProjectRoot string

	// DBPath is the SQLite database file used by the durable store.
	// Ignored when Transparent is set.
	DBPath string

	// Transparent selects the filesystem-only implementation: no database,
	// no revision history, no pending tracking.
	Transparent bool

	// Logger for store activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults rooted at the current directory.
func DefaultConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		DBPath:      ".draftvault/content.db",
		Logger:      log.New(os.Stderr, "[vault] ", log.LstdFlags),
	}
}

// New constructs a Store according to cfg. The durable variant opens (or
// creates) the SQLite database and initializes its schema; the transparent
// variant touches nothing until it is used.
func New(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[vault] ", log.LstdFlags)
	}
	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("project root cannot be empty")
	}

	if cfg.Transparent {
		return NewTransparent(cfg.ProjectRoot, logger), nil
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize content schema: %w", err)
	}
	return NewDurable(database, cfg.ProjectRoot, logger), nil
}
