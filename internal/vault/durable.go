package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/draftvault/draftvault/internal/vault/db"
)

// DurableStore is the database-backed Store implementation. Content and
// revision rows live in SQLite; the pending index is a process-local map
// recomputed after every mutation and at registration.
//
// In a multi-process deployment each process must call Refresh for
// mutations it did not itself perform; the store provides no cross-process
// invalidation channel.
type DurableStore struct {
	db          *db.DB
	projectRoot string
	logger      *log.Logger

	mu      sync.RWMutex
	folders map[string]trackedFolder
	pending map[string][]Revision
}

// trackedFolder is one registered folder.
type trackedFolder struct {
	name string
	path string
	glob string
}

// NewDurable creates a durable store on an open database. The schema must
// already be initialized; vault.New handles both steps.
func NewDurable(database *db.DB, projectRoot string, logger *log.Logger) *DurableStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[vault] ", log.LstdFlags)
	}
	return &DurableStore{
		db:          database,
		projectRoot: projectRoot,
		logger:      logger,
		folders:     make(map[string]trackedFolder),
		pending:     make(map[string][]Revision),
	}
}

// Register implements Store.Register.
//
// Reconciliation order:
//  1. Normalize the folder and add it to the tracked set (idempotent)
//  2. Load the released-revisions manifest (missing file = empty set)
//  3. Partition the folder's revisions into released and pending
//  4. Purge released revisions permanently
//  5. If anything is pending, index it and leave content untouched:
//     unreleased edits take precedence over filesystem state
//  6. Otherwise force content to mirror the filesystem glob match
func (s *DurableStore) Register(rootFolder, glob string) error {
	name, folderPath, err := NormalizeFolder(s.projectRoot, rootFolder)
	if err != nil {
		return &RegistrationError{Folder: rootFolder, Err: err}
	}

	s.mu.Lock()
	if existing, ok := s.folders[name]; ok && existing.glob == glob {
		s.mu.Unlock()
		return nil
	}
	s.folders[name] = trackedFolder{name: name, path: folderPath, glob: glob}
	s.mu.Unlock()

	if err := s.reconcile(name, folderPath, glob); err != nil {
		s.mu.Lock()
		delete(s.folders, name)
		s.mu.Unlock()
		return &RegistrationError{Folder: name, Err: err}
	}

	s.logger.Printf("Registered folder %s (glob %s)", name, glob)
	return nil
}

// reconcile aligns one folder's content and revision rows with the
// manifest and, when nothing is pending, with the filesystem.
func (s *DurableStore) reconcile(name, folderPath, glob string) error {
	manifest, err := ReadManifest(folderPath)
	if err != nil {
		return &ManifestError{Folder: name, Path: filepath.Join(folderPath, ManifestFile), Err: err}
	}

	revisions, err := s.db.ListRevisions(name)
	if err != nil {
		return err
	}

	var released []string
	var pending []Revision
	for _, r := range revisions {
		if manifest[r.Token] {
			released = append(released, r.Token)
		} else {
			pending = append(pending, toRevision(r))
		}
	}

	// Released tokens mean "already exported, no longer tracked"
	if err := s.db.DeleteRevisions(released); err != nil {
		return err
	}

	if len(pending) > 0 {
		s.setPending(name, pending)
		s.logger.Printf("Folder %s has %d pending revisions, keeping stored content", name, len(pending))
		return nil
	}

	files, err := matchFolder(folderPath, glob)
	if err != nil {
		return err
	}
	if err := s.db.ResyncFolder(name, files); err != nil {
		return err
	}

	s.setPending(name, nil)
	s.logger.Printf("Folder %s resynced from filesystem (%d files)", name, len(files))
	return nil
}

// Read implements Store.Read.
func (s *DurableStore) Read(folder, file string) ([]byte, error) {
	name, file, err := s.key(folder, file)
	if err != nil {
		return nil, err
	}

	entry, err := s.db.GetEntry(name, file)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", name, file, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", name, file, err)
	}
	if entry.Deleted {
		return nil, fmt.Errorf("%s/%s: %w", name, file, ErrNotFound)
	}

	return entry.Content, nil
}

// RecordRevision implements Store.RecordRevision.
func (s *DurableStore) RecordRevision(folder, file string, content []byte) error {
	name, file, err := s.key(folder, file)
	if err != nil {
		return err
	}

	recorded, err := s.db.RecordRevision(name, file, content, newRevisionToken(), revisionAuthor)
	if err != nil {
		return &TransactionError{Op: "record revision", Folder: name, File: file, Err: err}
	}
	if !recorded {
		// unchanged content, nothing committed
		return nil
	}

	return s.refreshFolder(name)
}

// SoftDelete implements Store.SoftDelete.
func (s *DurableStore) SoftDelete(folder, file string) error {
	name, file, err := s.key(folder, file)
	if err != nil {
		return err
	}

	err = s.db.SoftDelete(name, file, newRevisionToken(), revisionAuthor)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", name, file, ErrNotFound)
	}
	if err != nil {
		return &TransactionError{Op: "soft delete", Folder: name, File: file, Err: err}
	}

	return s.refreshFolder(name)
}

// List implements Store.List.
func (s *DurableStore) List(folder, suffix string) ([]string, error) {
	name, _, err := NormalizeFolder(s.projectRoot, folder)
	if err != nil {
		return nil, err
	}

	files, err := s.db.ListFiles(name)
	if err != nil {
		return nil, err
	}
	if suffix == "" {
		return files, nil
	}

	filtered := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// Pending implements Store.Pending.
func (s *DurableStore) Pending() map[string][]Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string][]Revision, len(s.pending))
	for folder, revisions := range s.pending {
		snapshot[folder] = append([]Revision(nil), revisions...)
	}
	return snapshot
}

// PendingWithContent implements Store.PendingWithContent.
func (s *DurableStore) PendingWithContent() (map[string]FolderChanges, error) {
	result := make(map[string]FolderChanges)

	for folder, revisions := range s.Pending() {
		files := distinctFiles(revisions)
		entries, err := s.db.EntriesForFiles(folder, files)
		if err != nil {
			return nil, err
		}

		changes := FolderChanges{
			Revisions: distinctTokens(revisions),
		}
		for _, e := range entries {
			changes.Files = append(changes.Files, FileState{
				File:    e.File,
				Content: e.Content,
				Deleted: e.Deleted,
			})
		}
		result[folder] = changes
	}

	return result, nil
}

// Refresh implements Store.Refresh.
func (s *DurableStore) Refresh(folder string) error {
	name, _, err := NormalizeFolder(s.projectRoot, folder)
	if err != nil {
		return err
	}
	return s.refreshFolder(name)
}

// RefreshAll implements Store.RefreshAll.
func (s *DurableStore) RefreshAll() error {
	s.mu.RLock()
	names := make([]string, 0, len(s.folders))
	for name := range s.folders {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.refreshFolder(name); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.Close.
func (s *DurableStore) Close() error {
	return s.db.Close()
}

// refreshFolder recomputes one folder's pending set from the manifest and
// the revision log, with no reconciliation side effects. A failure here
// leaves every other folder's pending entries intact.
func (s *DurableStore) refreshFolder(name string) error {
	folderPath := s.folderPath(name)

	manifest, err := ReadManifest(folderPath)
	if err != nil {
		return &ManifestError{Folder: name, Path: filepath.Join(folderPath, ManifestFile), Err: err}
	}

	revisions, err := s.db.ListRevisions(name)
	if err != nil {
		return err
	}

	var pending []Revision
	for _, r := range revisions {
		if !manifest[r.Token] {
			pending = append(pending, toRevision(r))
		}
	}

	s.setPending(name, pending)
	return nil
}

// folderPath resolves a normalized folder name to its path on disk,
// preferring the registration record.
func (s *DurableStore) folderPath(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.folders[name]; ok {
		return f.path
	}
	return filepath.Join(s.projectRoot, filepath.FromSlash(name))
}

// key derives the normalized (folder, file) storage key.
func (s *DurableStore) key(folder, file string) (string, string, error) {
	name, _, err := NormalizeFolder(s.projectRoot, folder)
	if err != nil {
		return "", "", err
	}
	file, err = normalizeFile(file)
	if err != nil {
		return "", "", err
	}
	return name, file, nil
}

// setPending replaces one folder's pending entries.
func (s *DurableStore) setPending(name string, pending []Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(pending) == 0 {
		delete(s.pending, name)
		return
	}
	s.pending[name] = pending
}

// matchFolder enumerates the files under folderPath whose slash-relative
// path matches glob, and reads their raw content. Dot-prefixed files and
// directories (the manifest included) are skipped. A folder that does not
// exist on disk yields an empty set.
func matchFolder(folderPath, glob string) (map[string][]byte, error) {
	files := make(map[string][]byte)

	err := filepath.WalkDir(folderPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == folderPath && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != folderPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(folderPath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		matched, err := path.Match(glob, rel)
		if err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", glob, err)
		}
		if !matched {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[rel] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// toRevision converts a database revision row to the public type.
func toRevision(r *db.Revision) Revision {
	return Revision{
		Folder:    r.Folder,
		File:      r.File,
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
	}
}

// distinctFiles returns the distinct file names referenced by revisions,
// sorted.
func distinctFiles(revisions []Revision) []string {
	seen := make(map[string]bool)
	var files []string
	for _, r := range revisions {
		if !seen[r.File] {
			seen[r.File] = true
			files = append(files, r.File)
		}
	}
	sort.Strings(files)
	return files
}

// distinctTokens returns the distinct revision tokens, in log order.
func distinctTokens(revisions []Revision) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, r := range revisions {
		if !seen[r.Token] {
			seen[r.Token] = true
			tokens = append(tokens, r.Token)
		}
	}
	return tokens
}
