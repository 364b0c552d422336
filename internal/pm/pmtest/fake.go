// Package pmtest provides an in-memory pm.Manager for tests.
package pmtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/databackup-cli/databackup/internal/pm"
)

// Fake is an in-memory package manager. Packages absent from Installed are
// treated as not installed.
type Fake struct {
	mu        sync.Mutex
	Installed map[string]pm.Package
	Stats     map[string]pm.StorageStats
	// StatsErr makes StorageStats fail for the named packages.
	StatsErr map[string]error
	Dirs     map[string][]string
	Level    int
	PageSize int

	StatsCalls    []string
	ExternalCache []bool
}

// New returns a Fake reporting API level 34.
func New(pkgs ...pm.Package) *Fake {
	f := &Fake{
		Installed: make(map[string]pm.Package),
		Stats:     make(map[string]pm.StorageStats),
		StatsErr:  make(map[string]error),
		Dirs:      make(map[string][]string),
		Level:     34,
		PageSize:  2,
	}
	for _, p := range pkgs {
		f.Installed[p.Name] = p
	}
	return f
}

// Packages implements pm.Manager.
func (f *Fake) Packages(ctx context.Context, userID int) pm.Pager {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Installed))
	for name := range f.Installed {
		names = append(names, name)
	}
	sort.Strings(names)
	pkgs := make([]pm.Package, 0, len(names))
	for _, name := range names {
		pkgs = append(pkgs, f.Installed[name])
	}
	return &pager{pending: pkgs, size: f.PageSize, total: len(pkgs)}
}

// UID implements pm.Manager.
func (f *Fake) UID(ctx context.Context, pkg string, userID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Installed[pkg]
	if !ok || p.UID <= 0 {
		return -1, fmt.Errorf("no uid for %s", pkg)
	}
	return p.UID, nil
}

// VersionCode implements pm.Manager.
func (f *Fake) VersionCode(ctx context.Context, pkg string, userID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Installed[pkg]
	if !ok {
		return 0, fmt.Errorf("package %s not installed", pkg)
	}
	return p.VersionCode, nil
}

// SourceDirs implements pm.Manager.
func (f *Fake) SourceDirs(ctx context.Context, pkg string, userID int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dirs, ok := f.Dirs[pkg]
	if !ok {
		return nil, fmt.Errorf("no apk paths for %s", pkg)
	}
	return dirs, nil
}

// IsInstalled implements pm.Manager.
func (f *Fake) IsInstalled(ctx context.Context, pkg string, userID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Installed[pkg]
	return ok, nil
}

// StorageStats implements pm.Manager.
func (f *Fake) StorageStats(ctx context.Context, pkg string, userID int, externalCache bool) (pm.StorageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatsCalls = append(f.StatsCalls, pkg)
	f.ExternalCache = append(f.ExternalCache, externalCache)
	if err := f.StatsErr[pkg]; err != nil {
		return pm.StorageStats{}, err
	}
	return f.Stats[pkg], nil
}

// APILevel implements pm.Manager.
func (f *Fake) APILevel(ctx context.Context) (int, error) {
	return f.Level, nil
}

type pager struct {
	pending []pm.Package
	size    int
	total   int
}

func (p *pager) Total() int { return p.total }

func (p *pager) Next(ctx context.Context) ([]pm.Package, error) {
	n := p.size
	if n <= 0 || n > len(p.pending) {
		n = len(p.pending)
	}
	batch := p.pending[:n]
	p.pending = p.pending[n:]
	return batch, nil
}
