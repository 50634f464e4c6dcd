package vault

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// NormalizeFolder maps a caller-supplied folder path to its canonical
// project-relative name and its absolute path on disk.
//
// The name is slash-separated with no leading or trailing slash, and is the
// single key under which every component (content rows, revision rows,
// pending index, manifests) addresses the folder. Both "flows" and
// "./flows" normalize to "flows".
//
// Folders outside the project root are rejected.
func NormalizeFolder(projectRoot, rootFolder string) (name, folderPath string, err error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve project root: %w", err)
	}

	abs := rootFolder
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, rootFolder)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", "", fmt.Errorf("failed to relativize folder %s: %w", rootFolder, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("folder %s is outside the project root", rootFolder)
	}

	return rel, abs, nil
}

// normalizeFile canonicalizes a file name within a folder. File names are
// slash-separated and may contain subdirectories, but must stay inside the
// folder.
func normalizeFile(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}
	cleaned := path.Clean(filepath.ToSlash(file))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", fmt.Errorf("invalid file name %q", file)
	}
	return cleaned, nil
}
