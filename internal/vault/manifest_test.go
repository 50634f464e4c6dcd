package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()

	manifest := `# released by export run 3
tok-aaa

tok-bbb
   tok-ccc
# trailing comment
`
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	tokens, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}

	for _, want := range []string{"tok-aaa", "tok-bbb", "tok-ccc"} {
		if !tokens[want] {
			t.Errorf("expected token %s in manifest", want)
		}
	}
	if len(tokens) != 3 {
		t.Errorf("expected 3 tokens, got %d: %v", len(tokens), tokens)
	}
}

func TestReadManifestMissing(t *testing.T) {
	tokens, err := ReadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("missing manifest must read as empty, got error: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("expected empty set, got %v", tokens)
	}
}

func TestReadManifestUnreadable(t *testing.T) {
	dir := t.TempDir()

	// A directory where the manifest file should be is a read failure,
	// not an empty set
	if err := os.Mkdir(filepath.Join(dir, ManifestFile), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	if _, err := ReadManifest(dir); err == nil {
		t.Error("expected error reading directory as manifest")
	}
}
