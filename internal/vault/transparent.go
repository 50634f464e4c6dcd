package vault

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// TransparentStore is the filesystem-only Store implementation, used when
// durable tracking is disabled. It serves the identical contract with no
// database and no revisioning: writes and deletes act directly on disk and
// are immediately authoritative, and nothing is ever pending.
type TransparentStore struct {
	projectRoot string
	logger      *log.Logger

	mu      sync.RWMutex
	folders map[string]string // normalized name -> path on disk
}

// NewTransparent creates a transparent store rooted at projectRoot.
func NewTransparent(projectRoot string, logger *log.Logger) *TransparentStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[vault] ", log.LstdFlags)
	}
	return &TransparentStore{
		projectRoot: projectRoot,
		logger:      logger,
		folders:     make(map[string]string),
	}
}

// Register implements Store.Register. With no database to reconcile, it
// only validates and records the folder mapping.
func (s *TransparentStore) Register(rootFolder, glob string) error {
	name, folderPath, err := NormalizeFolder(s.projectRoot, rootFolder)
	if err != nil {
		return &RegistrationError{Folder: rootFolder, Err: err}
	}

	s.mu.Lock()
	s.folders[name] = folderPath
	s.mu.Unlock()

	s.logger.Printf("Registered folder %s (transparent)", name)
	return nil
}

// Read implements Store.Read.
func (s *TransparentStore) Read(folder, file string) ([]byte, error) {
	p, name, file, err := s.resolve(folder, file)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", name, file, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", name, file, err)
	}
	return content, nil
}

// RecordRevision implements Store.RecordRevision. The write goes straight
// to disk; no revision is recorded.
func (s *TransparentStore) RecordRevision(folder, file string, content []byte) error {
	p, name, file, err := s.resolve(folder, file)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", name, file, err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", name, file, err)
	}
	return nil
}

// SoftDelete implements Store.SoftDelete. With no rows to tombstone, the
// file is removed from disk.
func (s *TransparentStore) SoftDelete(folder, file string) error {
	p, name, file, err := s.resolve(folder, file)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", name, file, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", name, file, err)
	}
	return nil
}

// List implements Store.List.
func (s *TransparentStore) List(folder, suffix string) ([]string, error) {
	_, folderPath, err := NormalizeFolder(s.projectRoot, folder)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(folderPath, func(p string, d fs.DirEntry, err error) error {
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
		if suffix == "" || strings.HasSuffix(rel, suffix) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Pending implements Store.Pending. Nothing is ever pending without a
// revision log.
func (s *TransparentStore) Pending() map[string][]Revision {
	return map[string][]Revision{}
}

// PendingWithContent implements Store.PendingWithContent.
func (s *TransparentStore) PendingWithContent() (map[string]FolderChanges, error) {
	return map[string]FolderChanges{}, nil
}

// Refresh implements Store.Refresh as a no-op.
func (s *TransparentStore) Refresh(folder string) error {
	return nil
}

// RefreshAll implements Store.RefreshAll as a no-op.
func (s *TransparentStore) RefreshAll() error {
	return nil
}

// Close implements Store.Close. There is no database handle to release.
func (s *TransparentStore) Close() error {
	return nil
}

// resolve derives the on-disk path for a (folder, file) pair along with
// the normalized key.
func (s *TransparentStore) resolve(folder, file string) (p, name, cleaned string, err error) {
	name, folderPath, err := NormalizeFolder(s.projectRoot, folder)
	if err != nil {
		return "", "", "", err
	}
	cleaned, err = normalizeFile(file)
	if err != nil {
		return "", "", "", err
	}
	return filepath.Join(folderPath, filepath.FromSlash(cleaned)), name, cleaned, nil
}
