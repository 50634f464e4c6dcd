package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/draftvault/draftvault/internal/vault"
	"github.com/draftvault/draftvault/internal/vault/daemon"
	"github.com/draftvault/draftvault/internal/vault/dashboard"
)

var daemonNoDashboard bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch tracked folders and keep the store in sync",
	Long: `Daemon watches every tracked folder for known-revisions file changes,
refreshing the pending index when a release lands, and serves a live
dashboard over WebSocket.

Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		logger := newDaemonLogger(cfg)

		store, err := vault.New(&vault.Config{
			ProjectRoot: cfg.ProjectRoot,
			DBPath:      cfg.Database,
			Transparent: cfg.Transparent,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		for _, folder := range cfg.Folders {
			glob := folder.Glob
			if glob == "" {
				glob = "*"
			}
			if err := store.Register(folder.Path, glob); err != nil {
				return err
			}
		}

		var handler *dashboard.Handler
		if !daemonNoDashboard {
			server := dashboard.NewServer(store, &dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			handler = dashboard.NewHandler(server, store, logger)
			fmt.Printf("Dashboard: http://%s\n", server.GetAddr())
		}

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = logger
		if handler != nil {
			dcfg.OnContentChange = handler.OnFileChanged
		}

		d, err := daemon.New(store, dcfg)
		if err != nil {
			return err
		}

		for _, folder := range cfg.Folders {
			name, folderPath, err := vault.NormalizeFolder(cfg.ProjectRoot, folder.Path)
			if err != nil {
				return err
			}
			if err := d.Watch(name, folderPath); err != nil {
				logger.Printf("warning: cannot watch %s: %v", name, err)
			}
		}

		// Start blocks until the context is cancelled, then shuts the
		// daemon down, so an interrupt drains the watcher goroutines
		// before the process exits
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

// newDaemonLogger logs to stderr, and additionally to a rotating file when
// log_file is configured.
func newDaemonLogger(cfg *cliConfig) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return log.New(w, "[dv] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoDashboard, "no-dashboard", false, "disable the web dashboard")
}
