package vault

import (
	"path/filepath"
	"testing"
)

func TestNormalizeFolder(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		input    string
		wantName string
		wantErr  bool
	}{
		{"simple", "flows", "flows", false},
		{"dot slash prefix", "./flows", "flows", false},
		{"trailing slash", "flows/", "flows", false},
		{"nested", "content/flows", "content/flows", false},
		{"absolute inside root", filepath.Join(root, "flows"), "flows", false},
		{"escapes root", "../outside", "", true},
		{"root itself", ".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, folderPath, err := NormalizeFolder(root, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got name %q", tt.input, name)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeFolder(%q) failed: %v", tt.input, err)
			}
			if name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, name)
			}
			if want := filepath.Join(root, filepath.FromSlash(tt.wantName)); folderPath != want {
				t.Errorf("expected path %q, got %q", want, folderPath)
			}
		})
	}
}

func TestNormalizeFolderConsistentKeys(t *testing.T) {
	root := t.TempDir()

	a, _, err := NormalizeFolder(root, "flows")
	if err != nil {
		t.Fatalf("NormalizeFolder failed: %v", err)
	}
	b, _, err := NormalizeFolder(root, "./flows/")
	if err != nil {
		t.Fatalf("NormalizeFolder failed: %v", err)
	}
	if a != b {
		t.Errorf("equivalent inputs produced different keys: %q vs %q", a, b)
	}
}

func TestNormalizeFile(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"a.json", "a.json", false},
		{"./a.json", "a.json", false},
		{"sub/a.json", "sub/a.json", false},
		{"", "", true},
		{"../escape.json", "", true},
		{"/etc/passwd", "", true},
		{".", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeFile(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("normalizeFile(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeFile(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeFile(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}
