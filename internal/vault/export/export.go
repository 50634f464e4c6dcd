// Package export materializes a store's unreleased changes into a bundle
// directory that release tooling can package, and provides the manifest
// append that marks revisions as released afterwards.
package export

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/draftvault/draftvault/internal/vault"
)

// MetadataFile is the bundle description written alongside the exported
// content.
const MetadataFile = "bundle.yaml"

// Options contains configuration for the export.
type Options struct {
	// OutDir is the bundle output directory, created if missing
	OutDir string

	// DryRun previews the bundle without writing anything
	DryRun bool

	// Logger for export activity
	Logger *log.Logger
}

// Result contains statistics about the export.
type Result struct {
	Folders      int
	FilesWritten int
	Deletions    int
	// Revisions maps each folder to the tokens the release process must
	// append to that folder's manifest once the bundle ships
	Revisions map[string][]string
}

// Metadata is the bundle.yaml document.
type Metadata struct {
	ExportedAt time.Time      `yaml:"exported_at"`
	Folders    []FolderBundle `yaml:"folders"`
}

// FolderBundle describes one folder's slice of the bundle.
type FolderBundle struct {
	Name      string   `yaml:"name"`
	Files     []string `yaml:"files,omitempty"`
	Deletions []string `yaml:"deletions,omitempty"`
	Revisions []string `yaml:"revisions"`
}

// Export writes every pending change in the store to opts.OutDir: one file
// per live pending entry under <OutDir>/<folder>/, tombstones listed as
// deletions in the metadata, and a bundle.yaml tying files to the revision
// tokens they carry.
func Export(store vault.Store, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[export] ", log.LstdFlags)
	}

	changes, err := store.PendingWithContent()
	if err != nil {
		return nil, fmt.Errorf("failed to collect pending changes: %w", err)
	}

	result := &Result{
		Revisions: make(map[string][]string),
	}
	meta := Metadata{
		ExportedAt: time.Now().UTC(),
	}

	folders := make([]string, 0, len(changes))
	for folder := range changes {
		folders = append(folders, folder)
	}
	sort.Strings(folders)

	for _, folder := range folders {
		folderChanges := changes[folder]
		bundle := FolderBundle{
			Name:      folder,
			Revisions: folderChanges.Revisions,
		}

		for _, file := range folderChanges.Files {
			if file.Deleted {
				bundle.Deletions = append(bundle.Deletions, file.File)
				result.Deletions++
				continue
			}

			if !opts.DryRun {
				target := filepath.Join(opts.OutDir, filepath.FromSlash(folder), filepath.FromSlash(file.File))
				if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
					return nil, fmt.Errorf("failed to create bundle directory: %w", err)
				}
				if err := os.WriteFile(target, file.Content, 0644); err != nil {
					return nil, fmt.Errorf("failed to write %s/%s: %w", folder, file.File, err)
				}
			}
			bundle.Files = append(bundle.Files, file.File)
			result.FilesWritten++
		}

		meta.Folders = append(meta.Folders, bundle)
		result.Folders++
		result.Revisions[folder] = folderChanges.Revisions

		logger.Printf("Exported folder %s: %d files, %d deletions, %d revisions",
			folder, len(bundle.Files), len(bundle.Deletions), len(bundle.Revisions))
	}

	if !opts.DryRun && result.Folders > 0 {
		data, err := yaml.Marshal(&meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bundle metadata: %w", err)
		}
		if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create bundle directory: %w", err)
		}
		if err := os.WriteFile(filepath.Join(opts.OutDir, MetadataFile), data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write bundle metadata: %w", err)
		}
	}

	return result, nil
}

// MarkReleased appends revision tokens to a folder's released-revisions
// manifest. This is the release step that export tooling performs once a
// bundle has shipped; after it, a refresh (or the next registration) drops
// the tokens from the pending index and purges their revision rows.
func MarkReleased(folderPath string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	if err := os.MkdirAll(folderPath, 0755); err != nil {
		return fmt.Errorf("failed to create folder for manifest: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(folderPath, vault.ManifestFile),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# released %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	for _, token := range tokens {
		if _, err := fmt.Fprintln(f, token); err != nil {
			return fmt.Errorf("failed to write manifest token: %w", err)
		}
	}

	return nil
}
