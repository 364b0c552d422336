// Package backup runs the per-package and per-media backup and restore
// steps and records every outcome in the history store.
package backup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/installer"
	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/selinux"
	"github.com/databackup-cli/databackup/internal/store"
)

// CoverDir is the date directory every cover-strategy backup writes to, so
// unchanged components can be skipped.
const CoverDir = "cover"

// DateDir returns the date directory for a backup started at now.
func DateDir(strategy archive.Strategy, now time.Time) string {
	if strategy == archive.Cover {
		return CoverDir
	}
	return now.Format(archive.DateLayout)
}

// DataDir returns the directory holding each package's d component for
// userID, e.g. /data/user/0 for user data.
func DataDir(d archive.DataType, userID int) string {
	switch d {
	case archive.User:
		return fmt.Sprintf("/data/user/%d", userID)
	case archive.UserDE:
		return fmt.Sprintf("/data/user_de/%d", userID)
	case archive.Data:
		return fmt.Sprintf("/storage/emulated/%d/Android/data", userID)
	case archive.Obb:
		return fmt.Sprintf("/storage/emulated/%d/Android/obb", userID)
	default:
		return ""
	}
}

// Options configures a Manager.
type Options struct {
	UserID         int
	AppsRoot       string
	MediaRoot      string
	Compression    archive.CompressionType
	CompatibleMode bool
	Policy         archive.Policy
	CleanRestore   bool
}

// Result is the outcome of one archive.
type Result struct {
	Target   string
	DataType archive.DataType
	State    archive.State
	Message  string
	Err      error
}

// Manager manages backup and restore of catalog entries.
type Manager struct {
	store     *store.Store
	codec     *archive.Codec
	installer *installer.Installer
	restorer  *selinux.Restorer
	pm        pm.Manager
	fs        *rootfs.FS
	opts      Options
	logger    *slog.Logger
}

// New creates a new backup Manager.
func New(st *store.Store, codec *archive.Codec, inst *installer.Installer, restorer *selinux.Restorer,
	manager pm.Manager, fs *rootfs.FS, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		codec:     codec,
		installer: inst,
		restorer:  restorer,
		pm:        manager,
		fs:        fs,
		opts:      opts,
		logger:    logger,
	}
}

// StartRun opens a history run.
func (m *Manager) StartRun(kind store.RunKind) (*store.Run, error) {
	return m.store.StartRun(kind)
}

// FinishRun closes a history run and returns its tallies.
func (m *Manager) FinishRun(runID string) (store.Counts, error) {
	if err := m.store.FinishRun(runID); err != nil {
		return store.Counts{}, err
	}
	return m.store.CountItems(runID)
}

// record stores r under runID. A store failure is logged; it never fails
// the item itself.
func (m *Manager) record(runID string, r Result, size string) Result {
	msg := r.Message
	if r.Err != nil {
		if msg == "" {
			msg = r.Err.Error()
		} else {
			msg = r.Err.Error() + ": " + msg
		}
		m.logger.Warn("item failed", "target", r.Target, "type", r.DataType, "error", r.Err)
	} else {
		m.logger.Info("item "+r.State.String(), "target", r.Target, "type", r.DataType)
	}

	item := &store.Item{
		RunID:    runID,
		Target:   r.Target,
		DataType: string(r.DataType),
		State:    r.State.String(),
		Message:  msg,
		Size:     size,
	}
	if err := m.store.InsertItem(item); err != nil {
		m.logger.Warn("failed to record item", "target", r.Target, "error", err)
	}
	return r
}
