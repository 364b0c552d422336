package store

import "time"

// RunKind names what a run processed.
type RunKind string

const (
	BackupApps   RunKind = "backup_apps"
	RestoreApps  RunKind = "restore_apps"
	BackupMedia  RunKind = "backup_media"
	RestoreMedia RunKind = "restore_media"
)

// Item states as stored.
const (
	StateSucceeded = "succeeded"
	StateSkipped   = "skipped"
	StateFailed    = "failed"
)

// Run is one backup or restore invocation.
type Run struct {
	ID         string
	Kind       RunKind
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress
}

// Item is the outcome of processing one archive within a run.
type Item struct {
	ID         int64
	RunID      string
	Target     string // package or media name
	DataType   string
	State      string
	Message    string
	Size       string
	RecordedAt time.Time
}

// Counts tallies the items of a run by state.
type Counts struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Total returns the number of items counted.
func (c Counts) Total() int {
	return c.Succeeded + c.Skipped + c.Failed
}
