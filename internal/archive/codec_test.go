package archive

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/shell/shelltest"
)

func newTestCodec(sh *shelltest.Fake) *Codec {
	return New(sh, rootfs.New(sh), "/scratch", nil)
}

func userRequest(c CompressionType, compatible bool) Request {
	return Request{
		Compression:    c,
		DataType:       User,
		PackageName:    "com.foo",
		OutputDir:      "/backup/apps/com.foo/2024-01-01",
		SourceDir:      "/data/user/0",
		CompatibleMode: compatible,
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{in: "tar", want: Tar},
		{in: "ZSTD", want: Zstd},
		{in: " lz4 ", want: LZ4},
		{in: "gzip", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCompressionType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompressionType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileNameInference(t *testing.T) {
	tests := []struct {
		name     string
		wantComp CompressionType
		wantData DataType
		ok       bool
	}{
		{name: "user.tar.zst", wantComp: Zstd, wantData: User, ok: true},
		{name: "user_de.tar.lz4", wantComp: LZ4, wantData: UserDE, ok: true},
		{name: "apk.tar", wantComp: Tar, wantData: APK, ok: true},
		{name: "obb.tar.zst", wantComp: Zstd, wantData: Obb, ok: true},
		{name: "notes.txt", ok: false},
	}
	for _, tt := range tests {
		c, ok := CompressionFromFileName(tt.name)
		if ok != tt.ok || c != tt.wantComp {
			t.Errorf("CompressionFromFileName(%q) = (%q, %v)", tt.name, c, ok)
		}
		d, ok := DataTypeFromFileName(tt.name)
		if ok != tt.ok || d != tt.wantData {
			t.Errorf("DataTypeFromFileName(%q) = (%q, %v)", tt.name, d, ok)
		}
	}
}

func TestExclusions(t *testing.T) {
	user := Exclusions(User, "com.foo")
	want := []string{"com.foo/.ota", "com.foo/cache", "com.foo/lib", "com.foo/code_cache", "com.foo/no_backup"}
	if !reflect.DeepEqual(user, want) {
		t.Errorf("Exclusions(User) = %q, want %q", user, want)
	}
	if !reflect.DeepEqual(Exclusions(UserDE, "com.foo"), want) {
		t.Error("user_de should share the user exclusions")
	}
	for _, d := range []DataType{Data, Obb, Media} {
		got := Exclusions(d, "x")
		if !reflect.DeepEqual(got, []string{"Backup_*", "x/cache"}) {
			t.Errorf("Exclusions(%s) = %q", d, got)
		}
	}
	if Exclusions(APK, "x") != nil {
		t.Error("apk archives have no exclusions")
	}
}

func TestRequestTarget(t *testing.T) {
	if got := userRequest(Zstd, false).Target(); got != "/backup/apps/com.foo/2024-01-01/user.tar.zst" {
		t.Errorf("Target = %s", got)
	}
	r := userRequest(LZ4, false)
	r.DataType = UserDE
	if got := r.Target(); got != "/backup/apps/com.foo/2024-01-01/user_de.tar.lz4" {
		t.Errorf("Target = %s", got)
	}
	m := Request{Compression: Tar, DataType: Media, PackageName: "Pictures", OutputDir: "/backup/media/Pictures/d", SourceDir: "/storage/emulated/0/Pictures"}
	if got := m.Target(); got != "/backup/media/Pictures/d/Pictures.tar" {
		t.Errorf("media Target = %s", got)
	}
	if m.Source() != "/storage/emulated/0/Pictures" {
		t.Errorf("media Source = %s", m.Source())
	}
}

func TestCompressComponent_CommandLines(t *testing.T) {
	const excludes = "--exclude=com.foo/.ota --exclude=com.foo/cache --exclude=com.foo/lib --exclude=com.foo/code_cache --exclude=com.foo/no_backup"
	tests := []struct {
		name       string
		c          CompressionType
		compatible bool
		want       string
	}{
		{
			name: "zstd direct",
			c:    Zstd,
			want: "tar -I 'zstd -r -T0 --ultra -1 -q --priority=rt' -cpf /backup/apps/com.foo/2024-01-01/user.tar.zst -C /data/user/0 " + excludes + " com.foo",
		},
		{
			name:       "zstd compatible",
			c:          Zstd,
			compatible: true,
			want:       "tar -cpf - -C /data/user/0 " + excludes + " com.foo | zstd -r -T0 --ultra -1 -q --priority=rt > /backup/apps/com.foo/2024-01-01/user.tar.zst",
		},
		{
			name: "lz4 direct",
			c:    LZ4,
			want: "tar -I 'zstd -r -T0 --ultra -1 -q --priority=rt --format=lz4' -cpf /backup/apps/com.foo/2024-01-01/user.tar.lz4 -C /data/user/0 " + excludes + " com.foo",
		},
		{
			name:       "plain tar ignores compatible mode",
			c:          Tar,
			compatible: true,
			want:       "tar -cpf /backup/apps/com.foo/2024-01-01/user.tar -C /data/user/0 " + excludes + " com.foo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := shelltest.New()
			if _, err := newTestCodec(sh).CompressComponent(context.Background(), userRequest(tt.c, tt.compatible)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := sh.Matching("tar ")
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("tar command =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestCompressComponent_SourceMissing(t *testing.T) {
	sh := shelltest.New().On("ls -d /data/user/0/com.foo", shelltest.Fail(1))
	msg, err := newTestCodec(sh).CompressComponent(context.Background(), userRequest(Zstd, false))
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
	if !strings.Contains(msg, "/data/user/0/com.foo") {
		t.Errorf("message should name the missing path: %q", msg)
	}
	if sh.Count("tar ") != 0 {
		t.Error("tar should not run when the source is missing")
	}
}

func TestCompressComponent_MediaMarkerLifecycle(t *testing.T) {
	for _, tarFails := range []bool{false, true} {
		sh := shelltest.New()
		if tarFails {
			sh.On("tar ", shelltest.Fail(2, "tar: write error"))
		}
		req := Request{
			Compression: Zstd,
			DataType:    Media,
			PackageName: "Pictures",
			OutputDir:   "/backup/media/Pictures/2024-01-01",
			SourceDir:   "/storage/emulated/0/Pictures",
		}
		_, err := newTestCodec(sh).CompressComponent(context.Background(), req)
		if tarFails != (err != nil) {
			t.Fatalf("tarFails=%v but err=%v", tarFails, err)
		}

		cmds := sh.Commands()
		write, tarAt, remove := -1, -1, -1
		for i, c := range cmds {
			switch {
			case c == "printf %s /storage/emulated/0/Pictures > /storage/emulated/0/Pictures/.databackup_path":
				write = i
			case strings.HasPrefix(c, "tar "):
				tarAt = i
				if !strings.Contains(c, "-C /storage/emulated/0 --exclude='Backup_*' --exclude=Pictures/cache Pictures") {
					t.Errorf("unexpected media tar command: %s", c)
				}
			case c == "rm -rf /storage/emulated/0/Pictures/.databackup_path":
				remove = i
			}
		}
		if write < 0 || tarAt < 0 || remove < 0 || !(write < tarAt && tarAt < remove) {
			t.Errorf("tarFails=%v: marker write/tar/remove order wrong: %q", tarFails, cmds)
		}
	}
}

func TestCompressAPK_CommandLine(t *testing.T) {
	sh := shelltest.New()
	req := Request{Compression: Zstd, PackageName: "com.foo", OutputDir: "/backup/apps/com.foo/d", SourceDir: "/data/app/com.foo-1", CompatibleMode: true}
	if _, err := newTestCodec(sh).CompressAPK(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "cd /data/app/com.foo-1 && tar -cpf - *.apk | zstd -r -T0 --ultra -1 -q --priority=rt > /backup/apps/com.foo/d/apk.tar.zst"
	if got := sh.Matching("tar "); len(got) != 1 || got[0] != want {
		t.Errorf("apk command =\n%q\nwant\n%q", got, want)
	}
}

func TestDecompress_CommandLines(t *testing.T) {
	tests := []struct {
		name string
		req  DecompressRequest
		want string
	}{
		{
			name: "zstd with clean restore",
			req: DecompressRequest{Compression: Zstd, DataType: Data, ArchivePath: "/b/data.tar.zst", PackageName: "com.foo",
				TargetDir: "/storage/emulated/0/Android/data", CleanRestore: true},
			want: "tar -I 'zstd -d -T0 -q' -xmpf /b/data.tar.zst -C /storage/emulated/0/Android/data --exclude='Backup_*' --exclude=com.foo/cache --recursive-unlink",
		},
		{
			name: "lz4 compatible",
			req: DecompressRequest{Compression: LZ4, DataType: User, ArchivePath: "/b/user.tar.lz4", PackageName: "com.foo",
				TargetDir: "/data/user/0", CompatibleMode: true},
			want: "zstd -d -T0 -q --format=lz4 -c /b/user.tar.lz4 | tar -xmpf - -C /data/user/0 --exclude=com.foo/.ota --exclude=com.foo/cache --exclude=com.foo/lib --exclude=com.foo/code_cache --exclude=com.foo/no_backup",
		},
		{
			name: "plain tar apk",
			req:  DecompressRequest{Compression: Tar, DataType: APK, ArchivePath: "/b/apk.tar", TargetDir: "/tmp/apk"},
			want: "tar -xmpf /b/apk.tar -C /tmp/apk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh := shelltest.New()
			if _, err := newTestCodec(sh).Decompress(context.Background(), tt.req); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := sh.Matching("-xmpf")
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("extract command =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestDecompress_MediaUsesRecordedPath(t *testing.T) {
	sh := shelltest.New().
		On("find /scratch/media_marker", shelltest.OK("/scratch/media_marker/Pictures/.databackup_path")).
		On("cat /scratch/media_marker/Pictures/.databackup_path", shelltest.OK("/storage/emulated/10/Pictures"))

	req := DecompressRequest{Compression: Zstd, DataType: Media, ArchivePath: "/moved/elsewhere/Pictures.tar.zst", PackageName: "Pictures", TargetDir: "/ignored"}
	if _, err := newTestCodec(sh).Decompress(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	extracts := sh.Matching("-xmpf")
	if len(extracts) != 2 {
		t.Fatalf("expected marker extraction and full extraction, got %q", extracts)
	}
	if !strings.Contains(extracts[0], "-C /scratch/media_marker --wildcards '*/.databackup_path'") {
		t.Errorf("first extraction should only pull the marker: %s", extracts[0])
	}
	if !strings.Contains(extracts[1], "-C /storage/emulated/10 ") || strings.Contains(extracts[1], "/ignored") {
		t.Errorf("media should extract to the recorded parent: %s", extracts[1])
	}
	if sh.Count("rm -rf /storage/emulated/10/Pictures/.databackup_path") != 1 {
		t.Error("restored marker should be removed")
	}
	if sh.Count("rm -rf /scratch/media_marker") < 2 {
		t.Error("scratch dir should be wiped before and after")
	}
}

func TestDecompress_MediaEmptyMarker(t *testing.T) {
	sh := shelltest.New().
		On("find /scratch/media_marker", shelltest.OK("/scratch/media_marker/Pictures/.databackup_path")).
		On("cat ", shelltest.OK(""))

	req := DecompressRequest{Compression: Tar, DataType: Media, ArchivePath: "/b/Pictures.tar", PackageName: "Pictures"}
	_, err := newTestCodec(sh).Decompress(context.Background(), req)
	if !errors.Is(err, ErrMarkerMissing) {
		t.Fatalf("expected ErrMarkerMissing, got %v", err)
	}
	if sh.Count("-xmpf") != 1 {
		t.Error("full extraction must not run without a recorded path")
	}
}

func TestTest_CommandLines(t *testing.T) {
	sh := shelltest.New()
	c := newTestCodec(sh)
	ctx := context.Background()

	if _, err := c.Test(ctx, Tar, "/b/user.tar"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Test(ctx, Zstd, "/b/user.tar.zst"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"tar -t -f /b/user.tar > /dev/null",
		"zstd -d -T0 -q -c /b/user.tar.zst | tar -t -f - > /dev/null",
	}
	if got := sh.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}
