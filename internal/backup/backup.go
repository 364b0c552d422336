package backup

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/catalog"
)

// BackupPackage archives the selected components of c into
// AppsRoot/<package>/<date>. Each component is recorded separately; one
// failure does not stop the others. Recorded sizes and LastBackup are
// updated in c.
func (m *Manager) BackupPackage(ctx context.Context, runID string, c *catalog.BackupCandidate, date string) []Result {
	outputDir := path.Join(m.opts.AppsRoot, c.PackageName, date)
	var results []Result

	if c.SelectApp {
		results = append(results, m.backupAPK(ctx, runID, c, outputDir))
	}
	if c.SelectData {
		for _, d := range archive.PackageDataTypes {
			if ctx.Err() != nil {
				break
			}
			results = append(results, m.backupData(ctx, runID, c, d, outputDir))
		}
	}

	if len(results) > 0 && !anyFailed(results) {
		c.LastBackup = date
	}
	return results
}

func (m *Manager) backupAPK(ctx context.Context, runID string, c *catalog.BackupCandidate, outputDir string) Result {
	r := Result{Target: c.PackageName, DataType: archive.APK}

	dirs, err := m.pm.SourceDirs(ctx, c.PackageName, m.opts.UserID)
	if err == nil && len(dirs) == 0 {
		err = errors.New("pm reported no paths")
	}
	if err != nil {
		r.State = archive.Failed
		r.Err = fmt.Errorf("no apk directory for %s: %w", c.PackageName, err)
		return m.record(runID, r, "")
	}

	req := archive.Request{
		Compression:    m.opts.Compression,
		DataType:       archive.APK,
		PackageName:    c.PackageName,
		OutputDir:      outputDir,
		SourceDir:      dirs[0],
		CompatibleMode: m.opts.CompatibleMode,
	}
	out := m.codec.CompressAPKWithPolicy(ctx, req, m.opts.Policy, c.RecordedSize(archive.APK))
	if out.State != archive.Failed {
		c.SetRecordedSize(archive.APK, out.Size)
	}
	r.State, r.Message, r.Err = out.State, out.Message, out.Err
	return m.record(runID, r, out.Size)
}

func (m *Manager) backupData(ctx context.Context, runID string, c *catalog.BackupCandidate, d archive.DataType, outputDir string) Result {
	r := Result{Target: c.PackageName, DataType: d}
	req := archive.Request{
		Compression:    m.opts.Compression,
		DataType:       d,
		PackageName:    c.PackageName,
		OutputDir:      outputDir,
		SourceDir:      DataDir(d, m.opts.UserID),
		CompatibleMode: m.opts.CompatibleMode,
	}

	// Most packages have no external data or obb directory.
	if (d == archive.Data || d == archive.Obb) && !m.fs.Exists(ctx, req.Source()) {
		r.State = archive.Skipped
		r.Message = "no " + string(d) + " directory"
		return m.record(runID, r, "")
	}

	out := m.codec.Compress(ctx, req, m.opts.Policy, c.RecordedSize(d))
	if out.State != archive.Failed {
		c.SetRecordedSize(d, out.Size)
	}
	r.State, r.Message, r.Err = out.State, out.Message, out.Err
	return m.record(runID, r, out.Size)
}

// BackupMedia archives one media directory into MediaRoot/<name>/<date>.
func (m *Manager) BackupMedia(ctx context.Context, runID string, media *catalog.MediaBackup, date string) Result {
	req := archive.Request{
		Compression:    m.opts.Compression,
		DataType:       archive.Media,
		PackageName:    media.Name,
		OutputDir:      path.Join(m.opts.MediaRoot, media.Name, date),
		SourceDir:      media.Path,
		CompatibleMode: m.opts.CompatibleMode,
	}
	out := m.codec.Compress(ctx, req, m.opts.Policy, media.RecordedSize)
	if out.State != archive.Failed {
		media.RecordedSize = out.Size
		media.LastBackup = date
	}
	return m.record(runID, Result{
		Target:   media.Name,
		DataType: archive.Media,
		State:    out.State,
		Message:  out.Message,
		Err:      out.Err,
	}, out.Size)
}

func anyFailed(results []Result) bool {
	for _, r := range results {
		if r.State == archive.Failed {
			return true
		}
	}
	return false
}
