// Command dv is the DraftVault CLI: inspect and operate a revision-tracked
// content store from the project directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/draftvault/draftvault/internal/vault"
)

// cliConfig is the .draftvault.yaml configuration file.
type cliConfig struct {
	ProjectRoot   string         `mapstructure:"project_root"`
	Database      string         `mapstructure:"database"`
	Transparent   bool           `mapstructure:"transparent"`
	Folders       []folderConfig `mapstructure:"folders"`
	DashboardPort int            `mapstructure:"dashboard_port"`
	LogFile       string         `mapstructure:"log_file"`
}

// folderConfig is one tracked folder.
type folderConfig struct {
	Path string `mapstructure:"path"`
	Glob string `mapstructure:"glob"`
}

// loadConfig reads .draftvault.yaml from the working directory (or the
// path given with --config) and applies defaults.
func loadConfig(configPath string) (*cliConfig, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".draftvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("project_root", ".")
	v.SetDefault("database", ".draftvault/content.db")
	v.SetDefault("dashboard_port", 8080)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults carry a dev setup
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// openStore builds a store from the CLI config and registers its folders.
func openStore(cfg *cliConfig) (vault.Store, error) {
	store, err := vault.New(&vault.Config{
		ProjectRoot: cfg.ProjectRoot,
		DBPath:      cfg.Database,
		Transparent: cfg.Transparent,
	})
	if err != nil {
		return nil, err
	}

	for _, folder := range cfg.Folders {
		glob := folder.Glob
		if glob == "" {
			glob = "*"
		}
		if err := store.Register(folder.Path, glob); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return store, nil
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dv",
	Short: "DraftVault revision-tracked content store",
	Long: `DraftVault keeps folders of text files consistent between a SQLite
database and the filesystem, tracking every edit as a revision until an
external release process marks it released.

Configure tracked folders in .draftvault.yaml:

  project_root: .
  database: .draftvault/content.db
  folders:
    - path: flows
      glob: "*.json"`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .draftvault.yaml)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(daemonCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked folders and pending revision counts",
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

		mode := "durable"
		if cfg.Transparent {
			mode = "transparent"
		}
		fmt.Printf("Mode:     %s\n", mode)
		fmt.Printf("Database: %s\n", cfg.Database)
		fmt.Printf("Folders:  %d tracked\n\n", len(cfg.Folders))

		pending := store.Pending()
		for _, folder := range cfg.Folders {
			name, _, err := vault.NormalizeFolder(cfg.ProjectRoot, folder.Path)
			if err != nil {
				return err
			}
			files, err := store.List(name, "")
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s %3d files  %3d pending\n", name, len(files), len(pending[name]))
		}

		return nil
	},
}
