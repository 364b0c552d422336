package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/backup"
	"github.com/databackup-cli/databackup/internal/catalog"
	"github.com/databackup-cli/databackup/internal/store"
)

var (
	backupFlagMedia bool
	backupFlagApp   bool
	backupFlagData  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [name...]",
	Short: "Back up apps or media directories",
	Long: `Back up installed apps, or media directories with --media.

Without names, everything selected in the catalog is backed up. Names select
those entries (persisting the selection) and back up only them; --app and
--data choose which parts of an app are included.

With the cover strategy, components whose size has not changed since the
last backup are skipped. The by_time strategy writes a new dated directory
on every run.`,
	Example: `  databackup backup                       # everything selected
  databackup backup com.example.notes     # one package, APK and data
  databackup backup --data=false com.foo  # APK only
  databackup backup --media DCIM Music    # two media directories`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupFlagMedia, "media", false, "back up media directories instead of apps")
	backupCmd.Flags().BoolVar(&backupFlagApp, "app", true, "include the APK of named packages")
	backupCmd.Flags().BoolVar(&backupFlagData, "data", true, "include the data of named packages")
}

func runBackup(cmd *cobra.Command, args []string) error {
	d, err := openDeps(true)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := checkFreeSpace(d.cfg.BackupRoot, d.cfg.MinFreeBytes, disk.Usage); err != nil {
		return err
	}

	ctx := cmdContext(cmd)
	date := backup.DateDir(d.cfg.BackupStrategy(), time.Now())
	if backupFlagMedia {
		return backupMediaDirs(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), d, args, date)
	}
	return backupApps(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), d, args, date)
}

// usageFunc matches disk.Usage.
type usageFunc func(path string) (*disk.UsageStat, error)

// checkFreeSpace fails when the filesystem holding root has less than
// minFree bytes free. Zero disables the check. When the filesystem cannot be
// queried the backup proceeds.
func checkFreeSpace(root string, minFree uint64, usage usageFunc) error {
	if minFree == 0 {
		return nil
	}
	p := existingAncestor(root)
	st, err := usage(p)
	if err != nil {
		getLogger().Warn("could not check free space", "path", p, "error", err)
		return nil
	}
	if st.Free < minFree {
		return fmt.Errorf("only %s free on %s, need at least %s (min_free_bytes)",
			humanize.IBytes(st.Free), p, humanize.IBytes(minFree))
	}
	return nil
}

// existingAncestor returns p or its closest existing parent.
func existingAncestor(p string) string {
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// selectBackupApps picks the packages to back up. Named packages get the
// app and data selection from the flags.
func selectBackupApps(apps map[string]*catalog.BackupCandidate, names []string, app, data bool) ([]*catalog.BackupCandidate, error) {
	if len(names) == 0 {
		var out []*catalog.BackupCandidate
		for _, c := range apps {
			if c.IsOnThisDevice && (c.SelectApp || c.SelectData) {
				out = append(out, c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
		return out, nil
	}

	if !app && !data {
		return nil, errors.New("nothing to back up: both --app and --data are false")
	}
	out := make([]*catalog.BackupCandidate, 0, len(names))
	for _, name := range names {
		c, ok := apps[name]
		if !ok {
			return nil, fmt.Errorf("package %q is not installed or is blocked", name)
		}
		if !c.IsOnThisDevice {
			return nil, fmt.Errorf("package %q is no longer installed", name)
		}
		c.SelectApp, c.SelectData = app, data
		out = append(out, c)
	}
	return out, nil
}

func backupApps(ctx context.Context, w, progress io.Writer, d *deps, names []string, date string) error {
	apps, err := rebuildBackupApps(ctx, progress, d)
	if err != nil {
		return err
	}
	targets, err := selectBackupApps(apps, names, backupFlagApp, backupFlagData)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "Nothing selected for backup. Name packages to back up, e.g. 'databackup backup com.example'.")
		return nil
	}

	run, err := d.backup.StartRun(store.BackupApps)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	bar := newBar(progress, len(targets), "Backing up apps")
	for _, c := range targets {
		if ctx.Err() != nil {
			break
		}
		bar.Step(c.PackageName)
		d.backup.BackupPackage(ctx, run.ID, c, date)
	}
	bar.Finish()

	// Sizes recorded by the run drive the next cover-strategy skip.
	if err := d.files.SaveBackupApps(apps); err != nil {
		return fmt.Errorf("failed to save app catalog: %w", err)
	}
	return finishRun(w, d, run.ID, ctx.Err())
}

func selectBackupMedia(media map[string]*catalog.MediaBackup, names []string) ([]*catalog.MediaBackup, error) {
	var out []*catalog.MediaBackup
	if len(names) == 0 {
		for _, m := range media {
			if m.Selected {
				out = append(out, m)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}
	for _, name := range names {
		m, ok := media[name]
		if !ok {
			return nil, fmt.Errorf("media directory %q is not in the catalog", name)
		}
		m.Selected = true
		out = append(out, m)
	}
	return out, nil
}

func backupMediaDirs(ctx context.Context, w, progress io.Writer, d *deps, names []string, date string) error {
	media, err := rebuildBackupMedia(ctx, progress, d)
	if err != nil {
		return err
	}
	targets, err := selectBackupMedia(media, names)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "No media directories selected for backup.")
		return nil
	}

	run, err := d.backup.StartRun(store.BackupMedia)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	bar := newBar(progress, len(targets), "Backing up media")
	for _, m := range targets {
		if ctx.Err() != nil {
			break
		}
		bar.Step(m.Name)
		d.backup.BackupMedia(ctx, run.ID, m, date)
	}
	bar.Finish()

	if err := d.files.SaveBackupMedia(media); err != nil {
		return fmt.Errorf("failed to save media catalog: %w", err)
	}
	return finishRun(w, d, run.ID, ctx.Err())
}
