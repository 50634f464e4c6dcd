package export

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/draftvault/draftvault/internal/vault"
)

// setupStore creates a durable store with two pending changes: a written
// file and a tombstone.
func setupStore(t *testing.T) (vault.Store, string) {
	t.Helper()

	root := t.TempDir()
	store, err := vault.New(&vault.Config{
		ProjectRoot: root,
		DBPath:      filepath.Join(root, ".draftvault", "content.db"),
		Logger:      log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.RecordRevision("flows", "a.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("RecordRevision failed: %v", err)
	}
	if err := store.RecordRevision("flows", "b.json", []byte("doomed")); err != nil {
		t.Fatalf("RecordRevision failed: %v", err)
	}
	if err := store.SoftDelete("flows", "b.json"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	return store, root
}

func TestExport(t *testing.T) {
	store, _ := setupStore(t)
	outDir := filepath.Join(t.TempDir(), "bundle")

	result, err := Export(store, Options{
		OutDir: outDir,
		Logger: log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if result.Folders != 1 {
		t.Errorf("expected 1 folder, got %d", result.Folders)
	}
	if result.FilesWritten != 1 {
		t.Errorf("expected 1 file written, got %d", result.FilesWritten)
	}
	if result.Deletions != 1 {
		t.Errorf("expected 1 deletion, got %d", result.Deletions)
	}
	if len(result.Revisions["flows"]) != 3 {
		t.Errorf("expected 3 revision tokens, got %d", len(result.Revisions["flows"]))
	}

	content, err := os.ReadFile(filepath.Join(outDir, "flows", "a.json"))
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	if string(content) != `{"v":2}` {
		t.Errorf("expected exported content, got %q", content)
	}

	// Tombstones are never materialized as files
	if _, err := os.Stat(filepath.Join(outDir, "flows", "b.json")); !os.IsNotExist(err) {
		t.Error("tombstone must not be written to the bundle")
	}

	data, err := os.ReadFile(filepath.Join(outDir, MetadataFile))
	if err != nil {
		t.Fatalf("bundle metadata missing: %v", err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		t.Fatalf("failed to parse bundle metadata: %v", err)
	}
	if len(meta.Folders) != 1 {
		t.Fatalf("expected 1 folder in metadata, got %d", len(meta.Folders))
	}
	folder := meta.Folders[0]
	if folder.Name != "flows" {
		t.Errorf("expected folder flows, got %s", folder.Name)
	}
	if len(folder.Files) != 1 || folder.Files[0] != "a.json" {
		t.Errorf("expected files [a.json], got %v", folder.Files)
	}
	if len(folder.Deletions) != 1 || folder.Deletions[0] != "b.json" {
		t.Errorf("expected deletions [b.json], got %v", folder.Deletions)
	}
	if len(folder.Revisions) != 3 {
		t.Errorf("expected 3 revisions in metadata, got %d", len(folder.Revisions))
	}
}

func TestExportDryRun(t *testing.T) {
	store, _ := setupStore(t)
	outDir := filepath.Join(t.TempDir(), "bundle")

	result, err := Export(store, Options{
		OutDir: outDir,
		DryRun: true,
		Logger: log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.FilesWritten != 1 {
		t.Errorf("dry run should still count files, got %d", result.FilesWritten)
	}

	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("dry run must not create the bundle directory")
	}
}

func TestExportNothingPending(t *testing.T) {
	root := t.TempDir()
	store, err := vault.New(&vault.Config{
		ProjectRoot: root,
		DBPath:      filepath.Join(root, ".draftvault", "content.db"),
		Logger:      log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	outDir := filepath.Join(t.TempDir(), "bundle")
	result, err := Export(store, Options{OutDir: outDir, Logger: log.New(os.Stderr, "[test] ", 0)})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Folders != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(outDir, MetadataFile)); !os.IsNotExist(err) {
		t.Error("empty export must not write metadata")
	}
}

// Full release cycle: export, mark released, refresh drops the tokens.
func TestMarkReleasedCompletesCycle(t *testing.T) {
	store, root := setupStore(t)

	result, err := Export(store, Options{
		OutDir: filepath.Join(t.TempDir(), "bundle"),
		Logger: log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	folderPath := filepath.Join(root, "flows")
	if err := MarkReleased(folderPath, result.Revisions["flows"]); err != nil {
		t.Fatalf("MarkReleased failed: %v", err)
	}

	if err := store.Refresh("flows"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(store.Pending()) != 0 {
		t.Errorf("expected nothing pending after release, got %v", store.Pending())
	}

	// The manifest now parses back to exactly the released tokens
	tokens, err := vault.ReadManifest(folderPath)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Errorf("expected 3 manifest tokens, got %d", len(tokens))
	}

	if err := MarkReleased(folderPath, nil); err != nil {
		t.Errorf("MarkReleased(nil) failed: %v", err)
	}
}
