package catalog

import (
	"reflect"
	"testing"
	"time"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/pm"
)

func TestGroupRestore_GroupsByPackageAndDate(t *testing.T) {
	paths := []string{
		"pkgA/2024-02-01/apk.tar",
		"pkgA/2024-01-01/data.tar",
		"pkgA/2024-01-01/apk.tar",
	}

	got := GroupRestore(nil, paths)

	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got["pkgA"]
	if c == nil {
		t.Fatal("pkgA missing")
	}
	want := []RestoreDetail{
		{Date: "2024-01-01", HasApp: true, HasData: true, SelectApp: true, SelectData: true},
		{Date: "2024-02-01", HasApp: true, HasData: false, SelectApp: true, SelectData: false},
	}
	if !reflect.DeepEqual(c.Details, want) {
		t.Errorf("details = %+v\nwant %+v", c.Details, want)
	}
}

func TestGroupRestore_LastGroupIsFlushed(t *testing.T) {
	got := GroupRestore(nil, []string{
		"a/d1/apk.tar.zst",
		"z/d9/user.tar.zst",
	})
	if _, ok := got["z"]; !ok {
		t.Error("final group was not flushed")
	}
	if _, ok := got["a"]; !ok {
		t.Error("first group missing")
	}
}

func TestGroupRestore_NarrowsSelections(t *testing.T) {
	persisted := map[string]*RestoreCandidate{
		"pkgA": {
			PackageName: "pkgA",
			Label:       "App A",
			Details: []RestoreDetail{
				{Date: "2024-01-01", HasApp: true, HasData: true, SelectApp: false, SelectData: true},
			},
		},
	}

	got := GroupRestore(persisted, []string{"pkgA/2024-01-01/apk.tar.lz4"})

	d, ok := got["pkgA"].Detail("2024-01-01")
	if !ok {
		t.Fatal("detail missing")
	}
	if d.SelectData {
		t.Error("selectData must be cleared when the data archive is gone")
	}
	if d.SelectApp {
		t.Error("a deselected app must not be re-enabled")
	}
	if got["pkgA"].Label != "App A" {
		t.Errorf("label not preserved: %q", got["pkgA"].Label)
	}
}

func TestGroupRestore_Pruning(t *testing.T) {
	persisted := map[string]*RestoreCandidate{
		"gone": {PackageName: "gone", Details: []RestoreDetail{{Date: "d", HasApp: true, SelectApp: true}}},
	}
	paths := []string{
		"stray.tar",                      // too shallow
		"pkg/d/extra/apk.tar",            // too deep
		"notes/2024-01-01/readme.tar.gz", // unknown component
		"/d/apk.tar",                     // too shallow once trimmed
	}

	got := GroupRestore(persisted, paths)

	if len(got) != 0 {
		t.Errorf("expected an empty catalog, got %v", got)
	}
	if _, ok := got[""]; ok {
		t.Error("empty key must be dropped")
	}
}

func TestGroupRestore_DataComponents(t *testing.T) {
	for _, f := range []string{"user.tar", "user_de.tar.zst", "data.tar.lz4", "obb.tar"} {
		got := GroupRestore(nil, []string{"p/d/" + f})
		d, ok := got["p"].Detail("d")
		if !ok || !d.HasData || d.HasApp {
			t.Errorf("%s: got %+v", f, d)
		}
	}
}

func TestGroupMediaRestore(t *testing.T) {
	persisted := map[string]*MediaRestore{
		"Pictures": {Name: "Pictures", Path: "/storage/emulated/0/Pictures", Details: []MediaRestoreDetail{
			{Date: "2024-01-01", Selected: false, HasData: true},
		}},
	}
	paths := []string{
		"Pictures/2024-01-01/Pictures.tar.zst",
		"Pictures/2024-03-01/Pictures.tar.zst",
		"Music/2024-01-01/Other.tar",
		"DCIM/2024-01-01/DCIM.tar",
	}

	got := GroupMediaRestore(persisted, paths)

	if _, ok := got["Music"]; ok {
		t.Error("archive not named after its directory must be ignored")
	}
	pics := got["Pictures"]
	if pics == nil || len(pics.Details) != 2 {
		t.Fatalf("Pictures = %+v", pics)
	}
	if pics.Details[0].Selected {
		t.Error("persisted deselection should be kept")
	}
	if !pics.Details[1].Selected {
		t.Error("new dates should be selected")
	}
	if pics.Path != "/storage/emulated/0/Pictures" {
		t.Errorf("path not preserved: %q", pics.Path)
	}
	if got["DCIM"] == nil {
		t.Error("DCIM missing")
	}
}

func TestMergeBackup(t *testing.T) {
	installed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &BackupCandidate{
		PackageName: "com.foo",
		SelectApp:   true,
		SelectData:  true,
		LastBackup:  "2024-05-01",
		Sizes:       map[archive.DataType]string{archive.User: "4096"},
	}
	info := BackupInfo{
		Package: pm.Package{Name: "com.foo", VersionName: "2.0", VersionCode: 20, IsSystem: true, FirstInstallTime: installed},
		Storage: &pm.StorageStats{AppBytes: 10, DataBytes: 20},
	}

	got := MergeBackup(existing, info)

	if got != existing {
		t.Error("existing entry should be updated in place")
	}
	if got.Label != "com.foo" {
		t.Errorf("label should fall back to the package name, got %q", got.Label)
	}
	if got.VersionCode != 20 || got.VersionName != "2.0" || !got.IsSystemApp || !got.FirstInstallTime.Equal(installed) {
		t.Errorf("metadata not merged: %+v", got)
	}
	if !got.SelectApp || !got.SelectData || got.LastBackup != "2024-05-01" || got.RecordedSize(archive.User) != "4096" {
		t.Errorf("user state lost: %+v", got)
	}
	if got.Storage.Total() != 30 || !got.IsOnThisDevice {
		t.Errorf("live state not applied: %+v", got)
	}

	fresh := MergeBackup(nil, BackupInfo{Package: pm.Package{Name: "com.bar", Label: "Bar"}})
	if fresh.PackageName != "com.bar" || fresh.Label != "Bar" || fresh.SelectApp {
		t.Errorf("new entry = %+v", fresh)
	}
}

func TestBlockList(t *testing.T) {
	b := NewBlockList("b", "a")
	if !b.Add("c") || b.Add("a") || b.Add("") {
		t.Error("Add should only report new non-empty names")
	}
	if !b.Remove("b") || b.Remove("b") {
		t.Error("Remove should report presence")
	}
	if !reflect.DeepEqual(b.Names(), []string{"a", "c"}) {
		t.Errorf("Names = %v", b.Names())
	}
	var nilList *BlockList
	if nilList.Contains("a") || nilList.Len() != 0 {
		t.Error("nil block-list should be empty")
	}
}
