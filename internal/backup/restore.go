package backup

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/catalog"
)

// findArchives maps each data type to the archive file for it in dir. When
// a component has archives in more than one format, the newest wins.
func (m *Manager) findArchives(ctx context.Context, dir string) (map[archive.DataType]string, error) {
	names, err := m.fs.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	byType := make(map[archive.DataType][]string)
	for _, name := range names {
		if d, ok := archive.DataTypeFromFileName(name); ok {
			byType[d] = append(byType[d], name)
		}
	}

	found := make(map[archive.DataType]string, len(byType))
	for d, candidates := range byType {
		name, err := m.newestArchive(ctx, dir, candidates)
		if err != nil {
			return nil, err
		}
		found[d] = name
	}
	return found, nil
}

// newestArchive picks the most recently written of names in dir. Ties go
// to the configured compression, then to the first name in sort order.
func (m *Manager) newestArchive(ctx context.Context, dir string, names []string) (string, error) {
	if len(names) == 1 {
		return names[0], nil
	}
	sorted := append([]string(nil), names...)
	sort.Slice(sorted, func(i, j int) bool {
		ci, _ := archive.CompressionFromFileName(sorted[i])
		cj, _ := archive.CompressionFromFileName(sorted[j])
		if (ci == m.opts.Compression) != (cj == m.opts.Compression) {
			return ci == m.opts.Compression
		}
		return sorted[i] < sorted[j]
	})

	var (
		best     string
		bestTime time.Time
	)
	for _, name := range sorted {
		mod, err := m.fs.ModTime(ctx, path.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("failed to compare archives in %s: %w", dir, err)
		}
		if best == "" || mod.After(bestTime) {
			best, bestTime = name, mod
		}
	}
	m.logger.Warn("several archives for one component, using the newest", "dir", dir, "archives", names, "archive", best)
	return best, nil
}

// RestorePackage restores the components selected in detail: the APK
// through the installer, then every data archive present, each followed by
// ownership and context repair. expectedVersionCode 0 skips the installed
// version check.
func (m *Manager) RestorePackage(ctx context.Context, runID string, c *catalog.RestoreCandidate, detail catalog.RestoreDetail, expectedVersionCode int64) []Result {
	dir := path.Join(m.opts.AppsRoot, c.PackageName, detail.Date)
	archives, err := m.findArchives(ctx, dir)
	if err != nil {
		return []Result{m.record(runID, Result{Target: c.PackageName, DataType: archive.APK, State: archive.Failed, Err: err}, "")}
	}

	var results []Result
	if detail.SelectApp && detail.HasApp {
		results = append(results, m.restoreAPK(ctx, runID, c.PackageName, dir, archives, expectedVersionCode))
	}
	if detail.SelectData && detail.HasData {
		for _, d := range archive.PackageDataTypes {
			name, ok := archives[d]
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			results = append(results, m.restoreData(ctx, runID, c.PackageName, d, path.Join(dir, name)))
		}
	}
	return results
}

func (m *Manager) restoreAPK(ctx context.Context, runID, pkg, dir string, archives map[archive.DataType]string, expectedVersionCode int64) Result {
	r := Result{Target: pkg, DataType: archive.APK}
	name, ok := archives[archive.APK]
	if !ok {
		r.State = archive.Failed
		r.Err = fmt.Errorf("no apk archive in %s", dir)
		return m.record(runID, r, "")
	}
	compression, _ := archive.CompressionFromFileName(name)

	out, err := m.installer.Install(ctx, compression, path.Join(dir, name), pkg, m.opts.UserID, expectedVersionCode)
	r.Message, r.Err = out, err
	r.State = archive.Succeeded
	if err != nil {
		r.State = archive.Failed
	}
	return m.record(runID, r, "")
}

func (m *Manager) restoreData(ctx context.Context, runID, pkg string, d archive.DataType, archivePath string) Result {
	r := Result{Target: pkg, DataType: d}
	compression, _ := archive.CompressionFromFileName(path.Base(archivePath))
	parent := DataDir(d, m.opts.UserID)
	target := path.Join(parent, pkg)

	// The context of the directory the fresh install created carries the
	// package's MLS categories; keep it across the overwrite.
	var label string
	if m.restorer.SupportFixContext && m.fs.Exists(ctx, target) {
		var err error
		label, err = m.restorer.Context(ctx, target)
		if err != nil {
			m.logger.Debug("no existing context", "path", target, "error", err)
		}
	}

	out, err := m.codec.Decompress(ctx, archive.DecompressRequest{
		Compression:    compression,
		DataType:       d,
		ArchivePath:    archivePath,
		PackageName:    pkg,
		TargetDir:      parent,
		CompatibleMode: m.opts.CompatibleMode,
		CleanRestore:   m.opts.CleanRestore,
	})
	if err != nil {
		r.State, r.Message, r.Err = archive.Failed, out, err
		return m.record(runID, r, "")
	}

	fixOut, err := m.restorer.SetOwnerAndContext(ctx, d, pkg, target, m.opts.UserID, label)
	r.Message = strings.TrimSpace(strings.Join([]string{out, fixOut}, "\n"))
	r.State, r.Err = archive.Succeeded, err
	if err != nil {
		r.State = archive.Failed
	}
	return m.record(runID, r, "")
}

// RestoreMedia extracts one dated media archive back to the directory it
// was taken from.
func (m *Manager) RestoreMedia(ctx context.Context, runID string, media *catalog.MediaRestore, detail catalog.MediaRestoreDetail) Result {
	r := Result{Target: media.Name, DataType: archive.Media}
	dir := path.Join(m.opts.MediaRoot, media.Name, detail.Date)

	names, err := m.fs.List(ctx, dir)
	if err != nil {
		r.State, r.Err = archive.Failed, fmt.Errorf("failed to list %s: %w", dir, err)
		return m.record(runID, r, "")
	}
	var candidates []string
	for _, name := range names {
		if !strings.HasPrefix(name, media.Name+".tar") {
			continue
		}
		if _, ok := archive.CompressionFromFileName(name); ok {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		r.State, r.Err = archive.Failed, fmt.Errorf("no archive for %s in %s", media.Name, dir)
		return m.record(runID, r, "")
	}
	name, err := m.newestArchive(ctx, dir, candidates)
	if err != nil {
		r.State, r.Err = archive.Failed, err
		return m.record(runID, r, "")
	}
	archivePath := path.Join(dir, name)
	compression, _ := archive.CompressionFromFileName(name)

	out, err := m.codec.Decompress(ctx, archive.DecompressRequest{
		Compression:    compression,
		DataType:       archive.Media,
		ArchivePath:    archivePath,
		PackageName:    media.Name,
		TargetDir:      media.Path,
		CompatibleMode: m.opts.CompatibleMode,
		CleanRestore:   m.opts.CleanRestore,
	})
	r.Message, r.Err = out, err
	r.State = archive.Succeeded
	if err != nil {
		r.State = archive.Failed
	}
	return m.record(runID, r, "")
}
