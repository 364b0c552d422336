// Package pm reads installed-package state from the Android package manager.
package pm

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/shell"
)

// Manager is the package manager accessor the pipeline depends on.
type Manager interface {
	// Packages returns a pager over all packages installed for userID.
	Packages(ctx context.Context, userID int) Pager
	// UID returns the package's uid for userID, or -1 with an error.
	UID(ctx context.Context, pkg string, userID int) (int, error)
	VersionCode(ctx context.Context, pkg string, userID int) (int64, error)
	// SourceDirs returns the directories holding the package's APK files.
	SourceDirs(ctx context.Context, pkg string, userID int) ([]string, error)
	IsInstalled(ctx context.Context, pkg string, userID int) (bool, error)
	StorageStats(ctx context.Context, pkg string, userID int, externalCache bool) (StorageStats, error)
	APILevel(ctx context.Context) (int, error)
}

// Pager yields packages in batches. Next returns an empty batch once drained.
type Pager interface {
	Next(ctx context.Context) ([]Package, error)
	// Total is the number of packages the pager will yield, once known.
	Total() int
}

// DefaultPageSize is how many packages ShellManager yields per batch.
const DefaultPageSize = 32

// ShellManager implements Manager by running pm, dumpsys and getprop.
type ShellManager struct {
	sh       shell.Executor
	fs       *rootfs.FS
	pageSize int
}

// NewShellManager creates a ShellManager.
func NewShellManager(sh shell.Executor, fs *rootfs.FS) *ShellManager {
	return &ShellManager{sh: sh, fs: fs, pageSize: DefaultPageSize}
}

// listEntry is one parsed line of `pm list packages` output.
type listEntry struct {
	Name        string
	VersionCode int64
	UID         int
}

// parseListPackages parses `pm list packages [--show-versioncode] [-U]`
// output. Example line:
//
//	package:com.example.app versionCode:42 uid:10123
func parseListPackages(lines []string) []listEntry {
	var entries []listEntry
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "package:") {
			continue
		}
		e := listEntry{UID: -1}
		for _, field := range strings.Fields(line) {
			key, value, ok := strings.Cut(field, ":")
			if !ok {
				continue
			}
			switch key {
			case "package":
				e.Name = value
			case "versionCode":
				e.VersionCode, _ = strconv.ParseInt(value, 10, 64)
			case "uid":
				if uid, err := strconv.Atoi(value); err == nil {
					e.UID = uid
				}
			}
		}
		if e.Name != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

func (m *ShellManager) list(ctx context.Context, userID int, flags []string, filter string) ([]listEntry, error) {
	cmd := shell.Cmd("pm", "list", "packages").Arg(flags...).Arg("--user", strconv.Itoa(userID))
	if filter != "" {
		cmd.Arg(filter)
	}
	r := m.sh.ExecuteQuiet(ctx, cmd.String())
	if err := r.Err(cmd.String()); err != nil {
		return nil, fmt.Errorf("pm list packages failed: %w", err)
	}
	return parseListPackages(r.Lines), nil
}

// lookup returns the exact entry for pkg; pm filters by substring.
func (m *ShellManager) lookup(ctx context.Context, pkg string, userID int, flags ...string) (listEntry, bool, error) {
	entries, err := m.list(ctx, userID, flags, pkg)
	if err != nil {
		return listEntry{}, false, err
	}
	for _, e := range entries {
		if e.Name == pkg {
			return e, true, nil
		}
	}
	return listEntry{}, false, nil
}

// UID implements Manager.
func (m *ShellManager) UID(ctx context.Context, pkg string, userID int) (int, error) {
	e, found, err := m.lookup(ctx, pkg, userID, "-U")
	if err != nil {
		return -1, err
	}
	if !found || e.UID < 0 {
		return -1, fmt.Errorf("no uid for %s (user %d)", pkg, userID)
	}
	return e.UID, nil
}

// VersionCode implements Manager.
func (m *ShellManager) VersionCode(ctx context.Context, pkg string, userID int) (int64, error) {
	e, found, err := m.lookup(ctx, pkg, userID, "--show-versioncode")
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("package %s not installed for user %d", pkg, userID)
	}
	return e.VersionCode, nil
}

// IsInstalled implements Manager.
func (m *ShellManager) IsInstalled(ctx context.Context, pkg string, userID int) (bool, error) {
	_, found, err := m.lookup(ctx, pkg, userID)
	return found, err
}

// SourceDirs implements Manager. `pm path` prints one package:<apk> line
// per split; the result is the distinct parent directories in order.
func (m *ShellManager) SourceDirs(ctx context.Context, pkg string, userID int) ([]string, error) {
	cmd := shell.Cmd("pm", "path", "--user", strconv.Itoa(userID), pkg).String()
	r := m.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return nil, fmt.Errorf("pm path failed for %s: %w", pkg, err)
	}
	dirs := parsePmPath(r.Lines)
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no apk paths for %s", pkg)
	}
	return dirs, nil
}

func parsePmPath(lines []string) []string {
	seen := make(map[string]struct{})
	var dirs []string
	for _, line := range lines {
		p, ok := strings.CutPrefix(strings.TrimSpace(line), "package:")
		if !ok || p == "" {
			continue
		}
		dir := path.Dir(p)
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

// APILevel implements Manager.
func (m *ShellManager) APILevel(ctx context.Context) (int, error) {
	cmd := "getprop ro.build.version.sdk"
	r := m.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return 0, err
	}
	level, err := strconv.Atoi(r.Output())
	if err != nil {
		return 0, fmt.Errorf("unexpected sdk level %q: %w", r.Output(), err)
	}
	return level, nil
}

// StorageStats implements Manager by sizing the package's directories.
// The internal data directory must exist; cache directories are optional.
func (m *ShellManager) StorageStats(ctx context.Context, pkg string, userID int, externalCache bool) (StorageStats, error) {
	var stats StorageStats

	dirs, err := m.SourceDirs(ctx, pkg, userID)
	if err != nil {
		return stats, err
	}
	for _, dir := range dirs {
		n, err := m.fs.SizeBytes(ctx, dir)
		if err != nil {
			return stats, err
		}
		stats.AppBytes += n
	}

	user := strconv.Itoa(userID)
	dataDir := path.Join("/data/user", user, pkg)
	n, err := m.fs.SizeBytes(ctx, dataDir)
	if err != nil {
		return stats, err
	}
	stats.DataBytes = n
	if n, err := m.fs.SizeBytes(ctx, path.Join("/data/user_de", user, pkg)); err == nil {
		stats.DataBytes += n
	}

	for _, c := range []string{"cache", "code_cache"} {
		if n, err := m.fs.SizeBytes(ctx, path.Join(dataDir, c)); err == nil {
			stats.CacheBytes += n
		}
	}

	if externalCache {
		extCache := path.Join("/storage/emulated", user, "Android/data", pkg, "cache")
		if n, err := m.fs.SizeBytes(ctx, extCache); err == nil {
			stats.ExternalCacheBytes = n
		}
	}

	return stats, nil
}

var (
	versionNameRe  = regexp.MustCompile(`versionName=(\S+)`)
	firstInstallRe = regexp.MustCompile(`firstInstallTime=(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
)

// parseDumpsysPackage extracts the version name and first install time from
// `dumpsys package <name>` output.
func parseDumpsysPackage(lines []string) (versionName string, firstInstall time.Time) {
	for _, line := range lines {
		if versionName == "" {
			if m := versionNameRe.FindStringSubmatch(line); m != nil {
				versionName = m[1]
			}
		}
		if firstInstall.IsZero() {
			if m := firstInstallRe.FindStringSubmatch(line); m != nil {
				if t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], time.Local); err == nil {
					firstInstall = t
				}
			}
		}
	}
	return versionName, firstInstall
}

// Packages implements Manager.
func (m *ShellManager) Packages(ctx context.Context, userID int) Pager {
	return &shellPager{m: m, userID: userID}
}

type shellPager struct {
	m       *ShellManager
	userID  int
	loaded  bool
	pending []listEntry
	system  map[string]bool
	total   int
}

func (p *shellPager) Total() int {
	return p.total
}

func (p *shellPager) load(ctx context.Context) error {
	all, err := p.m.list(ctx, p.userID, []string{"--show-versioncode", "-U"}, "")
	if err != nil {
		return err
	}
	sys, err := p.m.list(ctx, p.userID, []string{"-s"}, "")
	if err != nil {
		return err
	}
	p.system = make(map[string]bool, len(sys))
	for _, e := range sys {
		p.system[e.Name] = true
	}
	p.pending = all
	p.total = len(all)
	p.loaded = true
	return nil
}

func (p *shellPager) Next(ctx context.Context) ([]Package, error) {
	if !p.loaded {
		if err := p.load(ctx); err != nil {
			return nil, err
		}
	}
	if len(p.pending) == 0 {
		return nil, nil
	}

	n := p.m.pageSize
	if n <= 0 || n > len(p.pending) {
		n = len(p.pending)
	}
	batch := p.pending[:n]
	p.pending = p.pending[n:]

	pkgs := make([]Package, 0, len(batch))
	for _, e := range batch {
		pkg := Package{
			Name:        e.Name,
			Label:       e.Name,
			VersionCode: e.VersionCode,
			UID:         e.UID,
			IsSystem:    p.system[e.Name],
		}
		cmd := shell.Cmd("dumpsys", "package", e.Name).String()
		if r := p.m.sh.ExecuteQuiet(ctx, cmd); r.Succeeded {
			pkg.VersionName, pkg.FirstInstallTime = parseDumpsysPackage(r.Lines)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}
