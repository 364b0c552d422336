// Package installer installs APK archives with pm and prepares the device
// settings that unattended installs depend on.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/shell"
)

var (
	ErrEmptyArchive = errors.New("apk archive is empty")
	ErrNoSession    = errors.New("could not parse install session id")
)

// installerPackage is recorded as the installing package on API 30+.
const installerPackage = "com.android.vending"

var sessionIDRe = regexp.MustCompile(`\[(\d+)\]`)

// Installer extracts APK archives to a scratch directory and installs them.
type Installer struct {
	sh       shell.Executor
	fs       *rootfs.FS
	codec    *archive.Codec
	pm       pm.Manager
	settings *Settings
	logger   *slog.Logger

	scratchDir string
	// CompatibleMode extracts through a pipe instead of tar -I.
	CompatibleMode bool
}

// New creates an Installer extracting into scratchDir/apk.
func New(sh shell.Executor, fs *rootfs.FS, codec *archive.Codec, manager pm.Manager, scratchDir string, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		sh:         sh,
		fs:         fs,
		codec:      codec,
		pm:         manager,
		settings:   NewSettings(sh),
		logger:     logger,
		scratchDir: path.Join(scratchDir, "apk"),
	}
}

// Settings returns the settings accessor used before installs.
func (i *Installer) Settings() *Settings {
	return i.settings
}

// Install prepares the install environment, installs the archive and
// checks the resulting version code. A version mismatch is only logged.
// expectedVersionCode 0 skips the check.
func (i *Installer) Install(ctx context.Context, compression archive.CompressionType, archivePath, packageName string, userID int, expectedVersionCode int64) (string, error) {
	if err := i.settings.SetInstallEnv(ctx); err != nil {
		i.logger.Warn("failed to prepare install environment", "error", err)
	}

	out, err := i.InstallAPK(ctx, compression, archivePath, packageName, userID)
	if err != nil {
		return out, err
	}

	if expectedVersionCode == 0 {
		return out, nil
	}
	got, err := i.pm.VersionCode(ctx, packageName, userID)
	switch {
	case err != nil:
		i.logger.Warn("could not verify installed version", "package", packageName, "error", err)
	case got != expectedVersionCode:
		i.logger.Warn("installed version differs from backup",
			"package", packageName, "expected", expectedVersionCode, "installed", got)
	}
	return out, nil
}

// InstallAPK extracts archivePath and installs what it contains: a single
// APK with pm install, several (splits) through an install session.
func (i *Installer) InstallAPK(ctx context.Context, compression archive.CompressionType, archivePath, packageName string, userID int) (string, error) {
	if err := i.fs.Remove(ctx, i.scratchDir); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", i.scratchDir, err)
	}
	if err := i.fs.MkdirAll(ctx, i.scratchDir); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", i.scratchDir, err)
	}
	defer func() {
		if err := i.fs.Remove(ctx, i.scratchDir); err != nil {
			i.logger.Warn("failed to remove scratch directory", "path", i.scratchDir, "error", err)
		}
	}()

	out, err := i.codec.Decompress(ctx, archive.DecompressRequest{
		Compression:    compression,
		DataType:       archive.APK,
		ArchivePath:    archivePath,
		PackageName:    packageName,
		TargetDir:      i.scratchDir,
		CompatibleMode: i.CompatibleMode,
	})
	if err != nil {
		return out, fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	files, err := i.fs.Find(ctx, i.scratchDir, "*")
	if err != nil {
		return "", fmt.Errorf("failed to list extracted apks: %w", err)
	}
	sort.Strings(files)

	level, err := i.pm.APILevel(ctx)
	if err != nil {
		i.logger.Warn("could not read API level", "error", err)
	}
	opts := installOptions(level, userID)

	switch len(files) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrEmptyArchive, archivePath)
	case 1:
		cmd := shell.Cmd("pm", "install").Arg(opts...).Arg(path.Join(i.scratchDir, files[0])).String()
		r := i.sh.Execute(ctx, cmd)
		return r.Output(), r.Err(cmd)
	default:
		return i.installSession(ctx, opts, files)
	}
}

func installOptions(apiLevel, userID int) []string {
	var opts []string
	if apiLevel >= 30 {
		opts = append(opts, "-i", installerPackage)
	}
	return append(opts, "-r", "-t", "--user", fmt.Sprint(userID))
}

func (i *Installer) installSession(ctx context.Context, opts []string, files []string) (string, error) {
	var log []string

	create := shell.Cmd("pm", "install-create").Arg(opts...).String()
	r := i.sh.Execute(ctx, create)
	log = append(log, r.Output())
	if err := r.Err(create); err != nil {
		return strings.Join(log, "\n"), err
	}
	m := sessionIDRe.FindStringSubmatch(r.Output())
	if m == nil {
		return strings.Join(log, "\n"), fmt.Errorf("%w in %q", ErrNoSession, r.Output())
	}
	session := m[1]

	for _, f := range files {
		write := shell.Cmd("pm", "install-write", session, path.Base(f), path.Join(i.scratchDir, f)).String()
		r := i.sh.Execute(ctx, write)
		log = append(log, r.Output())
		if err := r.Err(write); err != nil {
			abandon := shell.Cmd("pm", "install-abandon", session).String()
			i.sh.Execute(ctx, abandon)
			return strings.Join(log, "\n"), fmt.Errorf("failed to write %s: %w", f, err)
		}
	}

	commit := shell.Cmd("pm", "install-commit", session).String()
	r = i.sh.Execute(ctx, commit)
	log = append(log, r.Output())
	return strings.Join(log, "\n"), r.Err(commit)
}
