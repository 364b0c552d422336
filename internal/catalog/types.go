// Package catalog keeps the persisted backup and restore catalogs in step
// with what is installed on the device and what is in the backup root.
package catalog

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/pm"
)

// BackupCandidate is an installed package that can be backed up.
type BackupCandidate struct {
	PackageName      string          `json:"package_name"`
	Label            string          `json:"label"`
	VersionName      string          `json:"version_name"`
	VersionCode      int64           `json:"version_code"`
	FirstInstallTime time.Time       `json:"first_install_time"`
	IsSystemApp      bool            `json:"is_system_app"`
	Storage          pm.StorageStats `json:"storage"`
	IsOnThisDevice   bool            `json:"is_on_this_device"`
	SelectApp        bool            `json:"select_app"`
	SelectData       bool            `json:"select_data"`
	// Sizes holds the source size recorded at the last backup of each
	// component, compared by the cover strategy.
	Sizes map[archive.DataType]string `json:"sizes,omitempty"`
	// LastBackup is the date directory of the last successful backup.
	LastBackup string `json:"last_backup,omitempty"`
}

// RecordedSize returns the size recorded for d, or "".
func (c *BackupCandidate) RecordedSize(d archive.DataType) string {
	return c.Sizes[d]
}

// SetRecordedSize stores the size recorded for d.
func (c *BackupCandidate) SetRecordedSize(d archive.DataType, size string) {
	if c.Sizes == nil {
		c.Sizes = make(map[archive.DataType]string)
	}
	c.Sizes[d] = size
}

// RestoreDetail describes one dated backup of a package. HasApp or HasData
// is always true, and a Select flag is never set without its Has flag.
type RestoreDetail struct {
	Date       string `json:"date"`
	HasApp     bool   `json:"has_app"`
	HasData    bool   `json:"has_data"`
	SelectApp  bool   `json:"select_app"`
	SelectData bool   `json:"select_data"`
	// Written is the newest archive time of a directory whose name is not
	// a date, such as cover. Zero when unknown or not needed.
	Written time.Time `json:"written,omitempty"`
}

// backupTime places a backup directory in time: dated directories by their
// name, others by when their archives were last written.
func backupTime(date string, written time.Time) time.Time {
	if t, err := time.ParseInLocation(archive.DateLayout, date, time.Local); err == nil {
		return t
	}
	return written
}

// isDated reports whether date is a by_time directory name.
func isDated(date string) bool {
	_, err := time.Parse(archive.DateLayout, date)
	return err == nil
}

// After reports whether d was taken after o.
func (d RestoreDetail) After(o RestoreDetail) bool {
	return newer(d.Date, d.Written, o.Date, o.Written)
}

// newer reports whether backup a was taken after backup b. Equal times
// fall back to the directory names so the choice is stable.
func newer(a string, aWritten time.Time, b string, bWritten time.Time) bool {
	ta, tb := backupTime(a, aWritten), backupTime(b, bWritten)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a > b
}

// RestoreCandidate is a package with at least one backup in the apps root.
type RestoreCandidate struct {
	PackageName    string          `json:"package_name"`
	Label          string          `json:"label"`
	IsOnThisDevice bool            `json:"is_on_this_device"`
	Details        []RestoreDetail `json:"details"`
}

// Detail returns the detail for date.
func (c *RestoreCandidate) Detail(date string) (RestoreDetail, bool) {
	for _, d := range c.Details {
		if d.Date == date {
			return d, true
		}
	}
	return RestoreDetail{}, false
}

// Latest returns the most recent backup. Dated directories compare by
// their date and cover by its Written time.
func (c *RestoreCandidate) Latest() (RestoreDetail, bool) {
	if len(c.Details) == 0 {
		return RestoreDetail{}, false
	}
	latest := c.Details[0]
	for _, d := range c.Details[1:] {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, true
}

// MediaBackup is a media directory that can be backed up.
type MediaBackup struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Selected  bool   `json:"selected"`
	SizeBytes int64  `json:"size_bytes"`
	// RecordedSize is the source size recorded at the last backup.
	RecordedSize string `json:"recorded_size,omitempty"`
	LastBackup   string `json:"last_backup,omitempty"`
}

// MediaRestoreDetail describes one dated backup of a media directory.
type MediaRestoreDetail struct {
	Date     string    `json:"date"`
	Selected bool      `json:"selected"`
	HasData  bool      `json:"has_data"`
	Written  time.Time `json:"written,omitempty"`
}

// After reports whether d was taken after o.
func (d MediaRestoreDetail) After(o MediaRestoreDetail) bool {
	return newer(d.Date, d.Written, o.Date, o.Written)
}

// MediaRestore is a media directory with at least one backup.
type MediaRestore struct {
	Name    string               `json:"name"`
	Path    string               `json:"path"`
	Details []MediaRestoreDetail `json:"details"`
}

// Latest returns the most recent backup, ordered as RestoreCandidate.Latest.
func (m *MediaRestore) Latest() (MediaRestoreDetail, bool) {
	if len(m.Details) == 0 {
		return MediaRestoreDetail{}, false
	}
	latest := m.Details[0]
	for _, d := range m.Details[1:] {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, true
}

// BlockList is the set of packages never offered for backup.
type BlockList struct {
	names map[string]struct{}
}

// NewBlockList returns a block-list holding names.
func NewBlockList(names ...string) *BlockList {
	b := &BlockList{names: make(map[string]struct{})}
	for _, n := range names {
		b.Add(n)
	}
	return b
}

// Add blocks name. It reports whether name was newly added.
func (b *BlockList) Add(name string) bool {
	if name == "" || b.Contains(name) {
		return false
	}
	if b.names == nil {
		b.names = make(map[string]struct{})
	}
	b.names[name] = struct{}{}
	return true
}

// Remove unblocks name. It reports whether name was present.
func (b *BlockList) Remove(name string) bool {
	if !b.Contains(name) {
		return false
	}
	delete(b.names, name)
	return true
}

// Contains reports whether name is blocked.
func (b *BlockList) Contains(name string) bool {
	if b == nil {
		return false
	}
	_, ok := b.names[name]
	return ok
}

// Names returns the blocked packages in sorted order.
func (b *BlockList) Names() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.names))
	for n := range b.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of blocked packages.
func (b *BlockList) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}

func (b *BlockList) MarshalJSON() ([]byte, error) {
	names := b.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

func (b *BlockList) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*b = *NewBlockList(names...)
	return nil
}
