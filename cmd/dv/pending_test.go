package main

import (
	"testing"

	"github.com/draftvault/draftvault/internal/vault/export"
)

func TestExportSummary(t *testing.T) {
	tests := []struct {
		name   string
		result export.Result
		dryRun bool
		want   string
	}{
		{
			name:   "empty store",
			result: export.Result{},
			want:   "Nothing to export.",
		},
		{
			name:   "counts reported",
			result: export.Result{Folders: 2, FilesWritten: 3, Deletions: 1},
			want:   "Exported 2 folder(s): 3 file(s), 1 deletion(s)",
		},
		{
			name:   "dry run",
			result: export.Result{Folders: 1, FilesWritten: 1},
			dryRun: true,
			want:   "Would export 1 folder(s): 1 file(s), 0 deletion(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exportSummary(&tt.result, tt.dryRun); got != tt.want {
				t.Errorf("exportSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}
