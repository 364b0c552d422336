package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/catalog"
	"github.com/databackup-cli/databackup/internal/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Rebuild and show the backup and restore catalogs",
	Long: `Rebuild one of the catalogs from live device state and the backup root,
save it next to the archives, and print it.

Catalogs:
  apps           installed packages that can be backed up
  restore        packages with at least one backup under the apps root
  media          media directories that can be backed up
  media-restore  media directories with at least one backup`,
	Example: `  databackup catalog apps
  databackup catalog restore
  databackup catalog media`,
}

var (
	catalogAppsCmd = &cobra.Command{
		Use:   "apps",
		Short: "List installed packages and their backup selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd, func(ctx context.Context, w io.Writer, d *deps) error {
				apps, err := rebuildBackupApps(ctx, cmd.ErrOrStderr(), d)
				if err != nil {
					return err
				}
				fmt.Fprint(w, output.RenderBackupTable(apps))
				return nil
			})
		},
	}

	catalogRestoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "List app backups found under the backup root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd, func(ctx context.Context, w io.Writer, d *deps) error {
				apps, err := rebuildRestoreApps(ctx, cmd.ErrOrStderr(), d)
				if err != nil {
					return err
				}
				fmt.Fprint(w, output.RenderRestoreTable(apps))
				return nil
			})
		},
	}

	catalogMediaCmd = &cobra.Command{
		Use:   "media",
		Short: "List media directories and their backup selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd, func(ctx context.Context, w io.Writer, d *deps) error {
				media, err := rebuildBackupMedia(ctx, cmd.ErrOrStderr(), d)
				if err != nil {
					return err
				}
				fmt.Fprint(w, output.RenderMediaTable(media))
				return nil
			})
		},
	}

	catalogMediaRestoreCmd = &cobra.Command{
		Use:   "media-restore",
		Short: "List media backups found under the backup root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(cmd, func(ctx context.Context, w io.Writer, d *deps) error {
				media, err := rebuildRestoreMedia(ctx, cmd.ErrOrStderr(), d)
				if err != nil {
					return err
				}
				fmt.Fprint(w, output.RenderMediaRestoreTable(media))
				return nil
			})
		},
	}
)

func init() {
	catalogCmd.AddCommand(catalogAppsCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)
	catalogCmd.AddCommand(catalogMediaCmd)
	catalogCmd.AddCommand(catalogMediaRestoreCmd)
}

func withCatalog(cmd *cobra.Command, fn func(ctx context.Context, w io.Writer, d *deps) error) error {
	d, err := openDeps(false)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(cmdContext(cmd), cmd.OutOrStdout(), d)
}

func newBar(w io.Writer, total int, label string) *output.ProgressBar {
	bar := output.NewProgress(total, label)
	bar.SetWriter(w)
	return bar
}

// The rebuild helpers refresh one catalog, persist it and return it.

func rebuildBackupApps(ctx context.Context, progress io.Writer, d *deps) (map[string]*catalog.BackupCandidate, error) {
	bar := newBar(progress, 100, "Reading installed packages")
	apps, err := d.reconciler.BuildBackupCandidates(ctx, bar.Report)
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to build app catalog: %w", err)
	}
	if err := d.files.SaveBackupApps(apps); err != nil {
		return nil, fmt.Errorf("failed to save app catalog: %w", err)
	}
	return apps, nil
}

func rebuildRestoreApps(ctx context.Context, progress io.Writer, d *deps) (map[string]*catalog.RestoreCandidate, error) {
	bar := newBar(progress, 100, "Scanning app backups")
	apps, err := d.reconciler.BuildRestoreCandidates(ctx, bar.Report)
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to build restore catalog: %w", err)
	}
	if err := d.files.SaveRestoreApps(apps); err != nil {
		return nil, fmt.Errorf("failed to save restore catalog: %w", err)
	}
	return apps, nil
}

func rebuildBackupMedia(ctx context.Context, progress io.Writer, d *deps) (map[string]*catalog.MediaBackup, error) {
	bar := newBar(progress, 100, "Sizing media directories")
	media, err := d.reconciler.BuildMediaBackupCandidates(ctx, bar.Report)
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to build media catalog: %w", err)
	}
	if err := d.files.SaveBackupMedia(media); err != nil {
		return nil, fmt.Errorf("failed to save media catalog: %w", err)
	}
	return media, nil
}

func rebuildRestoreMedia(ctx context.Context, progress io.Writer, d *deps) (map[string]*catalog.MediaRestore, error) {
	bar := newBar(progress, 100, "Scanning media backups")
	media, err := d.reconciler.BuildMediaRestoreCandidates(ctx, bar.Report)
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to build media restore catalog: %w", err)
	}
	if err := d.files.SaveRestoreMedia(media); err != nil {
		return nil, fmt.Errorf("failed to save media restore catalog: %w", err)
	}
	return media, nil
}
