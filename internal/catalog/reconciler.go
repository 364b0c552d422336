package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/rootfs"
)

// ExternalCacheAPILevel is the first API level whose storage stats report
// external cache separately.
const ExternalCacheAPILevel = 31

// DefaultMediaNames are seeded into an empty media backup catalog.
var DefaultMediaNames = []string{"Pictures", "Download", "Music", "DCIM"}

// ProgressFunc receives the fraction of work done, in [0, 1].
type ProgressFunc func(fraction float64)

// BackupInfo is the live state merged into a BackupCandidate. Storage is
// nil when stats could not be read.
type BackupInfo struct {
	Package pm.Package
	Storage *pm.StorageStats
}

// Options configures a Reconciler.
type Options struct {
	UserID int
	// SelfPackage is never offered for backup.
	SelfPackage string
	AppsRoot    string
	MediaRoot   string
	// StorageRoot is the external storage directory default media entries
	// live under. Defaults to /storage/emulated/<UserID>.
	StorageRoot string
}

// Reconciler rebuilds the catalogs from the persisted files and live state.
// The returned maps are fresh snapshots; callers save them.
type Reconciler struct {
	files  *Files
	pm     pm.Manager
	fs     *rootfs.FS
	opts   Options
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(files *Files, manager pm.Manager, fs *rootfs.FS, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StorageRoot == "" {
		opts.StorageRoot = fmt.Sprintf("/storage/emulated/%d", opts.UserID)
	}
	return &Reconciler{files: files, pm: manager, fs: fs, opts: opts, logger: logger}
}

func report(onProgress ProgressFunc, done, total int) {
	if onProgress == nil || total <= 0 {
		return
	}
	onProgress(float64(done) / float64(total))
}

// BuildBackupCandidates merges every installed package into the persisted
// backup catalog. Packages that are no longer installed stay in the map
// with IsOnThisDevice false. Blocked packages are removed last.
func (r *Reconciler) BuildBackupCandidates(ctx context.Context, onProgress ProgressFunc) (map[string]*BackupCandidate, error) {
	candidates, err := r.files.LoadBackupApps()
	if err != nil {
		return nil, err
	}
	blocked, err := r.files.LoadBlockList()
	if err != nil {
		return nil, err
	}

	externalCache := false
	if level, err := r.pm.APILevel(ctx); err != nil {
		r.logger.Warn("could not read API level", "error", err)
	} else {
		externalCache = level >= ExternalCacheAPILevel
	}

	for _, c := range candidates {
		c.IsOnThisDevice = false
	}

	pager := r.pm.Packages(ctx, r.opts.UserID)
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := pager.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list packages: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, p := range batch {
			done++
			if p.Name == "" || p.Name == r.opts.SelfPackage {
				report(onProgress, done, pager.Total())
				continue
			}

			info := BackupInfo{Package: p}
			stats, err := r.pm.StorageStats(ctx, p.Name, r.opts.UserID, externalCache)
			if err != nil {
				r.logger.Warn("skipping storage stats", "package", p.Name, "error", err)
			} else {
				info.Storage = &stats
			}
			candidates[p.Name] = MergeBackup(candidates[p.Name], info)
			report(onProgress, done, pager.Total())
		}
	}

	delete(candidates, "")
	for _, name := range blocked.Names() {
		delete(candidates, name)
	}
	return candidates, nil
}

// BuildRestoreCandidates groups the archives under the apps root into
// restore candidates and marks which packages are installed.
func (r *Reconciler) BuildRestoreCandidates(ctx context.Context, onProgress ProgressFunc) (map[string]*RestoreCandidate, error) {
	persisted, err := r.files.LoadRestoreApps()
	if err != nil {
		return nil, err
	}
	paths, err := r.fs.Find(ctx, r.opts.AppsRoot, "*.tar*")
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	candidates := GroupRestore(persisted, paths)
	for name, c := range candidates {
		for i := range c.Details {
			c.Details[i].Written = r.writtenAt(ctx, path.Join(r.opts.AppsRoot, name), c.Details[i].Date)
		}
	}

	done := 0
	for name, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		installed, err := r.pm.IsInstalled(ctx, name, r.opts.UserID)
		if err != nil {
			r.logger.Warn("could not query install state", "package", name, "error", err)
		}
		c.IsOnThisDevice = installed
		done++
		report(onProgress, done, len(candidates))
	}
	return candidates, nil
}

// BuildMediaBackupCandidates refreshes sizes of the persisted media
// directories, seeding the defaults when the catalog is empty. Entries
// whose directory is gone are dropped.
func (r *Reconciler) BuildMediaBackupCandidates(ctx context.Context, onProgress ProgressFunc) (map[string]*MediaBackup, error) {
	media, err := r.files.LoadBackupMedia()
	if err != nil {
		return nil, err
	}
	if len(media) == 0 {
		for _, name := range DefaultMediaNames {
			media[name] = &MediaBackup{Name: name, Path: path.Join(r.opts.StorageRoot, name)}
		}
	}
	delete(media, "")

	done, total := 0, len(media)
	for name, m := range media {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done++
		if !r.fs.Exists(ctx, m.Path) {
			r.logger.Info("dropping missing media directory", "name", name, "path", m.Path)
			delete(media, name)
			report(onProgress, done, total)
			continue
		}
		size, err := r.fs.SizeBytes(ctx, m.Path)
		if err != nil {
			r.logger.Warn("could not size media directory", "name", name, "error", err)
		} else {
			m.SizeBytes = size
		}
		report(onProgress, done, total)
	}
	return media, nil
}

// BuildMediaRestoreCandidates groups the archives under the media root.
func (r *Reconciler) BuildMediaRestoreCandidates(ctx context.Context, onProgress ProgressFunc) (map[string]*MediaRestore, error) {
	persisted, err := r.files.LoadRestoreMedia()
	if err != nil {
		return nil, err
	}
	paths, err := r.fs.Find(ctx, r.opts.MediaRoot, "*.tar*")
	if err != nil {
		return nil, fmt.Errorf("failed to list media archives: %w", err)
	}
	media := GroupMediaRestore(persisted, paths)
	for name, m := range media {
		for i := range m.Details {
			m.Details[i].Written = r.writtenAt(ctx, path.Join(r.opts.MediaRoot, name), m.Details[i].Date)
		}
	}
	report(onProgress, 1, 1)
	return media, nil
}

// writtenAt returns when the backup in parent/date was last written, for
// directories whose name carries no date. Dated directories get zero.
func (r *Reconciler) writtenAt(ctx context.Context, parent, date string) time.Time {
	if isDated(date) {
		return time.Time{}
	}
	t, err := r.fs.ModTime(ctx, path.Join(parent, date))
	if err != nil {
		r.logger.Debug("could not read backup time", "dir", path.Join(parent, date), "error", err)
		return time.Time{}
	}
	return t
}
