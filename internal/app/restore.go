package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/catalog"
	"github.com/databackup-cli/databackup/internal/store"
)

var (
	restoreFlagMedia bool
	restoreFlagDate  string
	restoreFlagApp   bool
	restoreFlagData  bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore [name...]",
	Short: "Restore apps or media directories from the backup root",
	Long: `Restore apps, or media directories with --media.

Without names, every entry with a selection in the restore catalog is
restored from its latest backup (or from --date). Names restore only those
entries, using --app and --data to choose the parts of an app.

App restores install the APK first, then extract each data archive and
restore ownership and SELinux context. Install-related settings are put back
to their previous values when the run ends.`,
	Example: `  databackup restore                          # everything selected
  databackup restore com.example.notes        # latest backup, APK and data
  databackup restore --date cover --app=false com.foo
  databackup restore --media DCIM`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreFlagMedia, "media", false, "restore media directories instead of apps")
	restoreCmd.Flags().StringVar(&restoreFlagDate, "date", "", "backup date directory to restore (default: latest)")
	restoreCmd.Flags().BoolVar(&restoreFlagApp, "app", true, "install the APK of named packages")
	restoreCmd.Flags().BoolVar(&restoreFlagData, "data", true, "restore the data of named packages")
}

func runRestore(cmd *cobra.Command, args []string) error {
	d, err := openDeps(true)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmdContext(cmd)
	if restoreFlagMedia {
		return restoreMediaDirs(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), d, args)
	}
	return restoreApps(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), d, args)
}

type restoreTarget struct {
	candidate *catalog.RestoreCandidate
	detail    catalog.RestoreDetail
}

// pickDetail returns the detail for date, or the latest one.
func pickDetail(c *catalog.RestoreCandidate, date string) (catalog.RestoreDetail, bool) {
	if date == "" {
		return c.Latest()
	}
	return c.Detail(date)
}

// setDetail stores d back into c, replacing the detail with the same date.
func setDetail(c *catalog.RestoreCandidate, d catalog.RestoreDetail) {
	for i := range c.Details {
		if c.Details[i].Date == d.Date {
			c.Details[i] = d
			return
		}
	}
}

// selectRestoreApps picks packages and the dated backup of each. Named
// packages get their selection from app and data, limited to what the
// backup contains.
func selectRestoreApps(apps map[string]*catalog.RestoreCandidate, names []string, date string, app, data bool) ([]restoreTarget, error) {
	var out []restoreTarget
	if len(names) == 0 {
		for _, c := range apps {
			detail, ok := pickDetail(c, date)
			if ok && (detail.SelectApp || detail.SelectData) {
				out = append(out, restoreTarget{candidate: c, detail: detail})
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].candidate.PackageName < out[j].candidate.PackageName
		})
		return out, nil
	}

	if !app && !data {
		return nil, errors.New("nothing to restore: both --app and --data are false")
	}
	for _, name := range names {
		c, ok := apps[name]
		if !ok {
			return nil, fmt.Errorf("no backup of %q found", name)
		}
		detail, ok := pickDetail(c, date)
		if !ok {
			return nil, fmt.Errorf("no backup of %q dated %q", name, date)
		}
		detail.SelectApp = app && detail.HasApp
		detail.SelectData = data && detail.HasData
		setDetail(c, detail)
		out = append(out, restoreTarget{candidate: c, detail: detail})
	}
	return out, nil
}

func restoreApps(ctx context.Context, w, progress io.Writer, d *deps, names []string) error {
	apps, err := rebuildRestoreApps(ctx, progress, d)
	if err != nil {
		return err
	}
	targets, err := selectRestoreApps(apps, names, restoreFlagDate, restoreFlagApp, restoreFlagData)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "Nothing selected for restore.")
		return nil
	}
	if err := d.files.SaveRestoreApps(apps); err != nil {
		return fmt.Errorf("failed to save restore catalog: %w", err)
	}

	// Version codes recorded at backup time let the installer flag a
	// mismatched APK.
	backups, err := d.files.LoadBackupApps()
	if err != nil {
		d.logger.Warn("could not load app catalog; skipping version checks", "error", err)
	}

	settings := d.installer.Settings()
	snapshot, err := settings.Snapshot(ctx)
	if err != nil {
		d.logger.Warn("could not snapshot install settings", "error", err)
	} else {
		defer func() {
			// The run context may be cancelled by now.
			if err := settings.Restore(context.Background(), snapshot); err != nil {
				d.logger.Warn("could not restore install settings", "error", err)
			}
		}()
	}

	run, err := d.backup.StartRun(store.RestoreApps)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	bar := newBar(progress, len(targets), "Restoring apps")
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		bar.Step(t.candidate.PackageName)
		var versionCode int64
		if b, ok := backups[t.candidate.PackageName]; ok {
			versionCode = b.VersionCode
		}
		d.backup.RestorePackage(ctx, run.ID, t.candidate, t.detail, versionCode)
	}
	bar.Finish()

	return finishRun(w, d, run.ID, ctx.Err())
}

func selectRestoreMedia(media map[string]*catalog.MediaRestore, names []string, date string) ([]*catalog.MediaRestore, []catalog.MediaRestoreDetail, error) {
	pick := func(m *catalog.MediaRestore) (catalog.MediaRestoreDetail, bool) {
		if date == "" {
			return m.Latest()
		}
		for _, d := range m.Details {
			if d.Date == date {
				return d, true
			}
		}
		return catalog.MediaRestoreDetail{}, false
	}

	var (
		entries []*catalog.MediaRestore
		details []catalog.MediaRestoreDetail
	)
	if len(names) == 0 {
		keys := make([]string, 0, len(media))
		for k := range media {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if detail, ok := pick(media[k]); ok && detail.Selected {
				entries = append(entries, media[k])
				details = append(details, detail)
			}
		}
		return entries, details, nil
	}
	for _, name := range names {
		m, ok := media[name]
		if !ok {
			return nil, nil, fmt.Errorf("no backup of media directory %q found", name)
		}
		detail, ok := pick(m)
		if !ok {
			return nil, nil, fmt.Errorf("no backup of %q dated %q", name, date)
		}
		entries = append(entries, m)
		details = append(details, detail)
	}
	return entries, details, nil
}

func restoreMediaDirs(ctx context.Context, w, progress io.Writer, d *deps, names []string) error {
	media, err := rebuildRestoreMedia(ctx, progress, d)
	if err != nil {
		return err
	}
	entries, details, err := selectRestoreMedia(media, names, restoreFlagDate)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No media backups selected for restore.")
		return nil
	}

	run, err := d.backup.StartRun(store.RestoreMedia)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	bar := newBar(progress, len(entries), "Restoring media")
	for i, m := range entries {
		if ctx.Err() != nil {
			break
		}
		bar.Step(m.Name)
		d.backup.RestoreMedia(ctx, run.ID, m, details[i])
	}
	bar.Finish()

	return finishRun(w, d, run.ID, ctx.Err())
}
