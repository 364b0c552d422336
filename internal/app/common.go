package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/backup"
	"github.com/databackup-cli/databackup/internal/catalog"
	"github.com/databackup-cli/databackup/internal/config"
	"github.com/databackup-cli/databackup/internal/installer"
	"github.com/databackup-cli/databackup/internal/output"
	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/selinux"
	"github.com/databackup-cli/databackup/internal/shell"
	"github.com/databackup-cli/databackup/internal/store"
)

var (
	loggerMu sync.Mutex
	logger   *slog.Logger
)

// newLogger builds the CLI's text logger. Shell commands are logged at
// debug level, so verbose shows them.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func setLogger(l *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
	slog.SetDefault(l)
}

func getLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// newExecutor opens the privileged shell described by cfg. Tests replace it.
var newExecutor = func(cfg *config.Config, l *slog.Logger) shell.Executor {
	return shell.NewGateway(shell.NewLocalSession(cfg.Shell), l)
}

// newPackageManager builds the package manager accessor. Tests replace it.
var newPackageManager = func(sh shell.Executor, fs *rootfs.FS) pm.Manager {
	return pm.NewShellManager(sh, fs)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig reads the settings file named by --config.
func loadConfig() (*config.Config, error) {
	p, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the history database and creates its schema if needed.
func openStore() (*store.Store, error) {
	p, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}
	st, err := store.New(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return st, nil
}

// deps is every component a command may need, wired from one config and
// one shell.
type deps struct {
	cfg        *config.Config
	logger     *slog.Logger
	sh         shell.Executor
	fs         *rootfs.FS
	pm         pm.Manager
	codec      *archive.Codec
	installer  *installer.Installer
	restorer   *selinux.Restorer
	files      *catalog.Files
	reconciler *catalog.Reconciler

	// Set only when opened with history.
	store  *store.Store
	backup *backup.Manager
}

func openDeps(withHistory bool) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	l := getLogger()

	d := &deps{cfg: cfg, logger: l}
	d.sh = newExecutor(cfg, l)
	d.fs = rootfs.New(d.sh)
	d.pm = newPackageManager(d.sh, d.fs)
	d.codec = archive.New(d.sh, d.fs, cfg.ScratchDir(), l)

	d.installer = installer.New(d.sh, d.fs, d.codec, d.pm, cfg.ScratchDir(), l)
	d.installer.CompatibleMode = cfg.CompatibleMode

	d.restorer = selinux.New(d.sh, d.pm, l)
	d.restorer.SupportFixContext = cfg.FixContext
	d.restorer.Rules = cfg.ContextRules

	d.files = catalog.NewFiles(cfg.CatalogDir())
	d.reconciler = catalog.NewReconciler(d.files, d.pm, d.fs, catalog.Options{
		UserID:      cfg.UserID,
		SelfPackage: cfg.SelfPackage,
		AppsRoot:    cfg.AppsRoot(),
		MediaRoot:   cfg.MediaRoot(),
	}, l)

	if !withHistory {
		return d, nil
	}
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	d.store = st
	d.backup = backup.New(st, d.codec, d.installer, d.restorer, d.pm, d.fs, backup.Options{
		UserID:         cfg.UserID,
		AppsRoot:       cfg.AppsRoot(),
		MediaRoot:      cfg.MediaRoot(),
		Compression:    cfg.CompressionType(),
		CompatibleMode: cfg.CompatibleMode,
		Policy: archive.Policy{
			Strategy:    cfg.BackupStrategy(),
			TestArchive: cfg.BackupTest,
		},
		CleanRestore: cfg.CleanRestore,
	}, l)
	return d, nil
}

func (d *deps) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// finishRun closes the run, prints its tallies and turns failures into a
// non-zero exit. cause, when set, is returned as is.
func finishRun(w io.Writer, d *deps, runID string, cause error) error {
	counts, err := d.backup.FinishRun(runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	fmt.Fprintf(w, "Run %s: %s\n", shortRunID(runID), output.RenderCounts(counts))
	if cause != nil {
		return cause
	}
	if counts.Failed > 0 {
		return fmt.Errorf("%d of %d items failed; see 'databackup history %s'",
			counts.Failed, counts.Total(), shortRunID(runID))
	}
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
