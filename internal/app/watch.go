package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/output"
	"github.com/databackup-cli/databackup/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool
	watchDebounce    time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep the restore catalogs in step with the backup root",
		Long: `Watch the apps and media directories of the backup root and rebuild the
restore catalogs whenever archives are added, replaced or removed, for
example by copying a backup over from another device.

Watch modes:
  • Foreground (default): run in the current terminal, Ctrl+C to stop
  • Daemon: run as a background process tracked by a PID file
  • Stop: stop a running daemon

Rebuilds wait until the tree has been quiet for the debounce interval, so
a large copy triggers one rebuild.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  databackup watch

  # Run as background daemon
  databackup watch --daemon

  # Stop running daemon
  databackup watch --stop`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: $XDG_CONFIG_HOME/databackup/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: $XDG_CONFIG_HOME/databackup/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before a rebuild")

	watchCmd.Flags().MarkHidden("daemon-child")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchPIDFile == "" {
		p, err := getDefaultPIDFile()
		if err != nil {
			return fmt.Errorf("failed to get default PID file path: %w", err)
		}
		watchPIDFile = p
	}
	if watchLogFile == "" {
		p, err := getDefaultLogFile()
		if err != nil {
			return fmt.Errorf("failed to get default log file path: %w", err)
		}
		watchLogFile = p
	}

	w := cmd.OutOrStdout()
	if watchStop {
		return stopWatchDaemon(w)
	}
	if watchDaemon {
		return startWatchDaemon(w)
	}

	d, err := openDeps(false)
	if err != nil {
		return err
	}
	defer d.Close()

	wt, err := watcher.New([]string{d.cfg.AppsRoot(), d.cfg.MediaRoot()}, restoreCatalogRebuilder(d), d.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	wt.Debounce = watchDebounce

	if watchDaemonChild {
		return wt.RunDaemon(cmdContext(cmd), watchPIDFile)
	}
	return runWatchForeground(cmdContext(cmd), w, wt)
}

// restoreCatalogRebuilder returns the watcher callback: both restore
// catalogs are rebuilt and saved, and a failure of one does not stop the
// other.
func restoreCatalogRebuilder(d *deps) watcher.RebuildFunc {
	return func(ctx context.Context) error {
		var errs []error
		if apps, err := d.reconciler.BuildRestoreCandidates(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("apps: %w", err))
		} else if err := d.files.SaveRestoreApps(apps); err != nil {
			errs = append(errs, fmt.Errorf("apps: %w", err))
		} else {
			d.logger.Info("restore catalog rebuilt", "packages", len(apps))
		}
		if media, err := d.reconciler.BuildMediaRestoreCandidates(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("media: %w", err))
		} else if err := d.files.SaveRestoreMedia(media); err != nil {
			errs = append(errs, fmt.Errorf("media: %w", err))
		} else {
			d.logger.Info("media restore catalog rebuilt", "directories", len(media))
		}
		return errors.Join(errs...)
	}
}

// daemonStopTimeout bounds the wait for a final rebuild after SIGTERM.
const daemonStopTimeout = 2 * time.Minute

func stopWatchDaemon(w io.Writer) error {
	running, err := watcher.IsDaemonRunning(watchPIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(w, "Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.SetWriter(w)
	spinner.Start()
	if err := watcher.StopDaemon(watchPIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.UpdateMessage("Waiting for pending catalog rebuilds")
	if err := watcher.WaitForExit(watchPIDFile, daemonStopTimeout); err != nil {
		spinner.Stop()
		return err
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

// daemonArgs rebuilds the command line for the daemon child.
func daemonArgs() []string {
	args := []string{"watch", "--daemon-child",
		"--pid-file", watchPIDFile,
		"--debounce", watchDebounce.String(),
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}

func startWatchDaemon(w io.Writer) error {
	spinner := output.NewSpinner("Starting daemon")
	spinner.SetWriter(w)
	spinner.Start()
	if err := watcher.StartDaemon(watchPIDFile, watchLogFile, daemonArgs()...); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Fprintf(w, "\nCatalog watcher started\n")
	fmt.Fprintf(w, "  PID file: %s\n", watchPIDFile)
	fmt.Fprintf(w, "  Log file: %s\n", watchLogFile)
	fmt.Fprintf(w, "\nTo stop: databackup watch --stop\n")
	return nil
}

func runWatchForeground(ctx context.Context, w io.Writer, wt *watcher.Watcher) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := wt.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Fprintln(w, "Watching the backup root for archive changes. Press Ctrl+C to stop.")

	<-sigCtx.Done()
	fmt.Fprintln(w, "\nStopping watcher...")
	if err := wt.Stop(); err != nil {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	fmt.Fprintf(w, "✓ Watcher stopped after %d rebuild(s)\n", wt.Rebuilds())
	return nil
}
