package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/config"
)

var (
	configPath string
	dbPath     string
	verbose    bool

	// RootCmd is the root command for databackup.
	RootCmd = &cobra.Command{
		Use:   "databackup",
		Short: "Back up and restore Android apps and media through a root shell",
		Long: `databackup archives installed Android apps (APK and data) and media
directories into a backup root on the device, and restores them later.

Every command runs through one privileged shell (su -c by default), driving
tar, zstd, pm, chown and chcon. Outcomes of each run are kept in a local
history database.

Quick Start:
  1. databackup catalog apps          # list installed packages
  2. databackup backup com.example    # back up one package
  3. databackup catalog restore       # list what can be restored
  4. databackup restore com.example   # restore the latest backup

Examples:
  # Back up every selected app, then every selected media directory
  databackup backup
  databackup backup --media

  # Restore one package from a specific date
  databackup restore --date 2024-05-01_10-00-00 com.example

  # Inspect the last runs
  databackup history`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setLogger(newLogger(cmd.ErrOrStderr(), verbose))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "databackup: Android app and media backup over a root shell")
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Run 'databackup catalog apps' to see what can be backed up.")
			fmt.Fprintln(cmd.OutOrStdout(), "Run 'databackup --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default: $XDG_CONFIG_HOME/databackup/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (default: $XDG_CONFIG_HOME/databackup/history.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every shell command and its output")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(catalogCmd)
	RootCmd.AddCommand(backupCmd)
	RootCmd.AddCommand(restoreCmd)
	RootCmd.AddCommand(blockCmd)
	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(envCmd)
	RootCmd.AddCommand(watchCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so batch loops stop between items.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RootCmd.ExecuteContext(ctx)
}

// stateDir returns the config directory, creating it.
func stateDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// getConfigPath returns the settings path from the flag or the default.
func getConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// getDBPath returns the history database path from the flag or the default.
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// getDefaultPIDFile returns the default watcher PID file path.
func getDefaultPIDFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.pid"), nil
}

// getDefaultLogFile returns the default watcher log file path.
func getDefaultLogFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.log"), nil
}
