package catalog

import (
	"sort"
	"strings"

	"github.com/databackup-cli/databackup/internal/archive"
)

// archiveEntry is one archive file split as name/date/file relative to the
// apps or media root.
type archiveEntry struct {
	name string
	date string
	file string
}

// parseArchivePaths keeps the paths with exactly three segments and sorts
// them by (name, date, file) so each group is contiguous.
func parseArchivePaths(relPaths []string) []archiveEntry {
	entries := make([]archiveEntry, 0, len(relPaths))
	for _, p := range relPaths {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, archiveEntry{name: parts[0], date: parts[1], file: parts[2]})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.name != b.name {
			return a.name < b.name
		}
		if a.date != b.date {
			return a.date < b.date
		}
		return a.file < b.file
	})
	return entries
}

// eachGroup calls fn once per (name, date) run of entries, including the
// last one.
func eachGroup(entries []archiveEntry, fn func(name, date string, files []string)) {
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) && entries[i].name == entries[start].name && entries[i].date == entries[start].date {
			continue
		}
		if start < len(entries) {
			files := make([]string, 0, i-start)
			for _, e := range entries[start:i] {
				files = append(files, e.file)
			}
			fn(entries[start].name, entries[start].date, files)
		}
		start = i
	}
}

// GroupRestore rebuilds the restore catalog from archive paths relative to
// the apps root (package/date/file). Selections persisted for a date that
// still exists are kept, but only for components that are still present.
// New dates select everything they contain. Packages with no usable date
// are dropped.
func GroupRestore(persisted map[string]*RestoreCandidate, relPaths []string) map[string]*RestoreCandidate {
	result := make(map[string]*RestoreCandidate)

	eachGroup(parseArchivePaths(relPaths), func(pkg, date string, files []string) {
		var hasApp, hasData bool
		for _, f := range files {
			d, ok := archive.DataTypeFromFileName(f)
			if !ok {
				continue
			}
			if d == archive.APK {
				hasApp = true
			} else {
				hasData = true
			}
		}
		if !hasApp && !hasData {
			return
		}

		detail := RestoreDetail{Date: date, HasApp: hasApp, HasData: hasData, SelectApp: hasApp, SelectData: hasData}
		prev := persisted[pkg]
		if prev != nil {
			if old, ok := prev.Detail(date); ok {
				detail.SelectApp = old.SelectApp && hasApp
				detail.SelectData = old.SelectData && hasData
			}
		}

		c := result[pkg]
		if c == nil {
			c = &RestoreCandidate{PackageName: pkg, Label: pkg}
			if prev != nil {
				if prev.Label != "" {
					c.Label = prev.Label
				}
				c.IsOnThisDevice = prev.IsOnThisDevice
			}
			result[pkg] = c
		}
		c.Details = append(c.Details, detail)
	})

	for k, c := range result {
		if k == "" || len(c.Details) == 0 {
			delete(result, k)
		}
	}
	return result
}

// GroupMediaRestore is GroupRestore for the media root, where each archive
// is name/date/name.suffix.
func GroupMediaRestore(persisted map[string]*MediaRestore, relPaths []string) map[string]*MediaRestore {
	result := make(map[string]*MediaRestore)

	eachGroup(parseArchivePaths(relPaths), func(name, date string, files []string) {
		hasData := false
		for _, f := range files {
			base, _, ok := strings.Cut(f, ".tar")
			if !ok || base != name {
				continue
			}
			if _, ok := archive.CompressionFromFileName(f); ok {
				hasData = true
			}
		}
		if !hasData {
			return
		}

		detail := MediaRestoreDetail{Date: date, HasData: true, Selected: true}
		prev := persisted[name]
		if prev != nil {
			for _, d := range prev.Details {
				if d.Date == date {
					detail.Selected = d.Selected
					break
				}
			}
		}

		m := result[name]
		if m == nil {
			m = &MediaRestore{Name: name}
			if prev != nil {
				m.Path = prev.Path
			}
			result[name] = m
		}
		m.Details = append(m.Details, detail)
	})

	for k, m := range result {
		if k == "" || len(m.Details) == 0 {
			delete(result, k)
		}
	}
	return result
}

// MergeBackup folds live package metadata into a catalog entry, creating
// it when existing is nil. Selections, recorded sizes and the last backup
// date are preserved.
func MergeBackup(existing *BackupCandidate, info BackupInfo) *BackupCandidate {
	c := existing
	if c == nil {
		c = &BackupCandidate{PackageName: info.Package.Name}
	}
	p := info.Package
	c.Label = p.Label
	if c.Label == "" {
		c.Label = p.Name
	}
	c.VersionName = p.VersionName
	c.VersionCode = p.VersionCode
	c.FirstInstallTime = p.FirstInstallTime
	c.IsSystemApp = p.IsSystem
	c.IsOnThisDevice = true
	if info.Storage != nil {
		c.Storage = *info.Storage
	}
	return c
}
