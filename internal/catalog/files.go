package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Catalog file names inside the catalog directory.
const (
	BackupAppsFile   = "backup_apps.json"
	RestoreAppsFile  = "restore_apps.json"
	BackupMediaFile  = "backup_media.json"
	RestoreMediaFile = "restore_media.json"
	BlockListFile    = "blocklist.json"
)

// Files reads and writes the JSON catalogs kept in one directory. A file
// that does not exist loads as an empty catalog.
type Files struct {
	dir string
}

// NewFiles returns Files rooted at dir.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// Dir returns the catalog directory.
func (f *Files) Dir() string {
	return f.dir
}

// Path returns the full path of the named catalog file.
func (f *Files) Path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *Files) LoadBackupApps() (map[string]*BackupCandidate, error) {
	var m map[string]*BackupCandidate
	if err := f.load(BackupAppsFile, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]*BackupCandidate)
	}
	return m, nil
}

func (f *Files) SaveBackupApps(m map[string]*BackupCandidate) error {
	return f.save(BackupAppsFile, m)
}

func (f *Files) LoadRestoreApps() (map[string]*RestoreCandidate, error) {
	var m map[string]*RestoreCandidate
	if err := f.load(RestoreAppsFile, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]*RestoreCandidate)
	}
	return m, nil
}

func (f *Files) SaveRestoreApps(m map[string]*RestoreCandidate) error {
	return f.save(RestoreAppsFile, m)
}

func (f *Files) LoadBackupMedia() (map[string]*MediaBackup, error) {
	var m map[string]*MediaBackup
	if err := f.load(BackupMediaFile, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]*MediaBackup)
	}
	return m, nil
}

func (f *Files) SaveBackupMedia(m map[string]*MediaBackup) error {
	return f.save(BackupMediaFile, m)
}

func (f *Files) LoadRestoreMedia() (map[string]*MediaRestore, error) {
	var m map[string]*MediaRestore
	if err := f.load(RestoreMediaFile, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]*MediaRestore)
	}
	return m, nil
}

func (f *Files) SaveRestoreMedia(m map[string]*MediaRestore) error {
	return f.save(RestoreMediaFile, m)
}

func (f *Files) LoadBlockList() (*BlockList, error) {
	b := NewBlockList()
	if err := f.load(BlockListFile, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *Files) SaveBlockList(b *BlockList) error {
	return f.save(BlockListFile, b)
}

func (f *Files) load(name string, v any) error {
	data, err := os.ReadFile(f.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// save writes v next to the target and renames it into place so a crash
// never leaves a truncated catalog behind.
func (f *Files) save(name string, v any) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, f.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
