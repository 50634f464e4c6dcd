package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/draftvault/draftvault/internal/vault/export"
)

var pendingJSON bool

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List revisions recorded since the last release",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		pending := store.Pending()

		if pendingJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pending)
		}

		if len(pending) == 0 {
			fmt.Println("No pending revisions.")
			return nil
		}

		for folder, revisions := range pending {
			fmt.Printf("%s:\n", folder)
			for _, rev := range revisions {
				fmt.Printf("  %s  %-32s %s\n", rev.Token, rev.File, rev.CreatedAt.Format("2006-01-02 15:04:05"))
			}
		}

		return nil
	},
}

var (
	exportOut    string
	exportDryRun bool
	exportMark   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending content as a release bundle",
	Long: `Export writes every file touched by a pending revision into an output
directory, along with a bundle.yaml manifest describing the release.

With --mark-released, the exported revision tokens are appended to each
folder's known-revisions file so the next refresh clears them from the
pending index.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := export.Export(store, export.Options{
			OutDir: exportOut,
			DryRun: exportDryRun,
			Logger: log.New(os.Stderr, "", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		fmt.Println(exportSummary(result, exportDryRun))
		if result.Folders == 0 {
			return nil
		}

		if exportMark && !exportDryRun {
			for folder, tokens := range result.Revisions {
				folderPath := filepath.Join(cfg.ProjectRoot, filepath.FromSlash(folder))
				if err := export.MarkReleased(folderPath, tokens); err != nil {
					return err
				}
			}
			if err := store.RefreshAll(); err != nil {
				return err
			}
			fmt.Println("Marked exported revisions as released.")
		}

		return nil
	},
}

// exportSummary formats the one-line result report for the export command.
func exportSummary(result *export.Result, dryRun bool) string {
	if result.Folders == 0 {
		return "Nothing to export."
	}
	verb := "Exported"
	if dryRun {
		verb = "Would export"
	}
	return fmt.Sprintf("%s %d folder(s): %d file(s), %d deletion(s)",
		verb, result.Folders, result.FilesWritten, result.Deletions)
}

func init() {
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "output as JSON")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "release", "output directory for the bundle")
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false, "report what would be exported without writing")
	exportCmd.Flags().BoolVar(&exportMark, "mark-released", false, "append exported tokens to each folder's known-revisions file")
}
