package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/databackup-cli/databackup/internal/archive"
)

func TestFiles_MissingFilesLoadEmpty(t *testing.T) {
	f := NewFiles(filepath.Join(t.TempDir(), "catalog"))

	apps, err := f.LoadBackupApps()
	if err != nil || apps == nil || len(apps) != 0 {
		t.Errorf("LoadBackupApps = %v, %v", apps, err)
	}
	restore, err := f.LoadRestoreApps()
	if err != nil || restore == nil || len(restore) != 0 {
		t.Errorf("LoadRestoreApps = %v, %v", restore, err)
	}
	blocked, err := f.LoadBlockList()
	if err != nil || blocked.Len() != 0 {
		t.Errorf("LoadBlockList = %v, %v", blocked, err)
	}
}

func TestFiles_RoundTripKeepsSelections(t *testing.T) {
	f := NewFiles(t.TempDir())

	restore := map[string]*RestoreCandidate{
		"com.foo": {PackageName: "com.foo", Label: "Foo", IsOnThisDevice: true, Details: []RestoreDetail{
			{Date: "2024-01-01", HasApp: true, HasData: true, SelectApp: false, SelectData: true},
		}},
	}
	if err := f.SaveRestoreApps(restore); err != nil {
		t.Fatalf("SaveRestoreApps: %v", err)
	}
	got, err := f.LoadRestoreApps()
	if err != nil {
		t.Fatalf("LoadRestoreApps: %v", err)
	}
	if !reflect.DeepEqual(got, restore) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got["com.foo"], restore["com.foo"])
	}

	backup := map[string]*BackupCandidate{
		"com.foo": {PackageName: "com.foo", SelectData: true, Sizes: map[archive.DataType]string{archive.Data: "1024"}},
	}
	if err := f.SaveBackupApps(backup); err != nil {
		t.Fatalf("SaveBackupApps: %v", err)
	}
	gotBackup, err := f.LoadBackupApps()
	if err != nil {
		t.Fatalf("LoadBackupApps: %v", err)
	}
	if !gotBackup["com.foo"].SelectData || gotBackup["com.foo"].RecordedSize(archive.Data) != "1024" {
		t.Errorf("backup entry = %+v", gotBackup["com.foo"])
	}
}

func TestFiles_BlockListRoundTrip(t *testing.T) {
	f := NewFiles(t.TempDir())
	if err := f.SaveBlockList(NewBlockList("com.b", "com.a")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(f.Path(BlockListFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "[\n  \"com.a\",\n  \"com.b\"\n]" {
		t.Errorf("blocklist.json = %s", got)
	}

	b, err := f.LoadBlockList()
	if err != nil {
		t.Fatal(err)
	}
	if !b.Contains("com.a") || !b.Contains("com.b") || b.Len() != 2 {
		t.Errorf("loaded %v", b.Names())
	}
}

func TestFiles_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFiles(dir)
	if err := f.SaveBackupMedia(map[string]*MediaBackup{"DCIM": {Name: "DCIM", Path: "/sdcard/DCIM"}}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != BackupMediaFile {
		t.Errorf("unexpected files: %v", entries)
	}
}

func TestFiles_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, RestoreMediaFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFiles(dir).LoadRestoreMedia(); err == nil {
		t.Error("expected a parse error")
	}
}
