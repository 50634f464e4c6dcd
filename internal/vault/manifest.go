package vault

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReadManifest loads a folder's released-revisions manifest into a token
// set. The manifest lives at <folderPath>/.released-revisions with one
// token per line; blank lines and '#' comments are ignored.
//
// A missing manifest file yields an empty set: nothing has been released.
// Any other read failure is returned as is; callers wrap it into a
// ManifestError with folder context.
func ReadManifest(folderPath string) (map[string]bool, error) {
	tokens := make(map[string]bool)

	f, err := os.Open(filepath.Join(folderPath, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return tokens, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}
