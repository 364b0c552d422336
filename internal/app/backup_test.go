package app

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/databackup-cli/databackup/internal/catalog"
)

func TestCheckFreeSpace(t *testing.T) {
	root := t.TempDir()
	usage := func(free uint64, err error) usageFunc {
		return func(p string) (*disk.UsageStat, error) {
			if err != nil {
				return nil, err
			}
			return &disk.UsageStat{Path: p, Free: free}, nil
		}
	}

	tests := []struct {
		name    string
		min     uint64
		usage   usageFunc
		wantErr bool
	}{
		{"disabled", 0, usage(0, nil), false},
		{"enough", 1 << 30, usage(2<<30, nil), false},
		{"too little", 1 << 30, usage(1<<20, nil), true},
		{"query fails", 1 << 30, usage(0, errors.New("statfs failed")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFreeSpace(filepath.Join(root, "DataBackup"), tt.min, tt.usage)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkFreeSpace() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "1.0 MiB free") {
				t.Errorf("error = %v, want the free size humanized", err)
			}
		})
	}
}

func TestCheckFreeSpace_QueriesExistingAncestor(t *testing.T) {
	root := t.TempDir()
	var queried string
	usage := func(p string) (*disk.UsageStat, error) {
		queried = p
		return &disk.UsageStat{Free: 1 << 40}, nil
	}
	if err := checkFreeSpace(filepath.Join(root, "a", "b"), 1, usage); err != nil {
		t.Fatal(err)
	}
	if queried != root {
		t.Errorf("queried %q, want the closest existing directory %q", queried, root)
	}
}

func TestSelectBackupApps(t *testing.T) {
	newApps := func() map[string]*catalog.BackupCandidate {
		return map[string]*catalog.BackupCandidate{
			"com.b":    {PackageName: "com.b", IsOnThisDevice: true, SelectData: true},
			"com.a":    {PackageName: "com.a", IsOnThisDevice: true, SelectApp: true},
			"com.none": {PackageName: "com.none", IsOnThisDevice: true},
			"com.gone": {PackageName: "com.gone", SelectApp: true},
		}
	}

	t.Run("selected only, sorted", func(t *testing.T) {
		got, err := selectBackupApps(newApps(), nil, true, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].PackageName != "com.a" || got[1].PackageName != "com.b" {
			t.Errorf("got %d targets, want com.a and com.b", len(got))
		}
	})

	t.Run("names override selection", func(t *testing.T) {
		apps := newApps()
		got, err := selectBackupApps(apps, []string{"com.none"}, true, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || !apps["com.none"].SelectApp || apps["com.none"].SelectData {
			t.Errorf("com.none selection = %+v", apps["com.none"])
		}
	})

	errCases := []struct {
		name      string
		names     []string
		app, data bool
	}{
		{"unknown", []string{"com.missing"}, true, true},
		{"uninstalled", []string{"com.gone"}, true, true},
		{"nothing chosen", []string{"com.a"}, false, false},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := selectBackupApps(newApps(), tt.names, tt.app, tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSelectBackupMedia(t *testing.T) {
	media := map[string]*catalog.MediaBackup{
		"Music":  {Name: "Music", Selected: true},
		"DCIM":   {Name: "DCIM", Selected: true},
		"Movies": {Name: "Movies"},
	}

	got, err := selectBackupMedia(media, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "DCIM" || got[1].Name != "Music" {
		t.Errorf("selected media = %v", got)
	}

	got, err = selectBackupMedia(media, []string{"Movies"})
	if err != nil || len(got) != 1 || !media["Movies"].Selected {
		t.Errorf("named media: got %v, err %v", got, err)
	}

	if _, err := selectBackupMedia(media, []string{"Podcasts"}); err == nil {
		t.Error("expected error for unknown media directory")
	}
}
