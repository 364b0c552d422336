package archive

import (
	"fmt"
	"strings"
)

// CompressionType selects the archive format.
type CompressionType string

const (
	Tar  CompressionType = "tar"
	Zstd CompressionType = "zstd"
	LZ4  CompressionType = "lz4"
)

// zstdFlags are shared by the zstd and lz4 compressors.
const zstdFlags = "zstd -r -T0 --ultra -1 -q --priority=rt"

// ParseCompressionType parses a configured compression name.
func ParseCompressionType(s string) (CompressionType, error) {
	switch c := CompressionType(strings.ToLower(strings.TrimSpace(s))); c {
	case Tar, Zstd, LZ4:
		return c, nil
	}
	return "", fmt.Errorf("unknown compression type %q (want tar, zstd or lz4)", s)
}

// CompressionFromFileName infers the compression type from an archive name
// such as user.tar.zst.
func CompressionFromFileName(name string) (CompressionType, bool) {
	switch {
	case strings.HasSuffix(name, ".tar.zst"):
		return Zstd, true
	case strings.HasSuffix(name, ".tar.lz4"):
		return LZ4, true
	case strings.HasSuffix(name, ".tar"):
		return Tar, true
	}
	return "", false
}

// Suffix is the archive file suffix without the leading dot.
func (c CompressionType) Suffix() string {
	switch c {
	case Zstd:
		return "tar.zst"
	case LZ4:
		return "tar.lz4"
	default:
		return "tar"
	}
}

// compressor is the command tar pipes through when compressing; empty for
// plain tar.
func (c CompressionType) compressor() string {
	switch c {
	case Zstd:
		return zstdFlags
	case LZ4:
		return zstdFlags + " --format=lz4"
	default:
		return ""
	}
}

// decompressor is the command tar pipes through when extracting.
func (c CompressionType) decompressor() string {
	switch c {
	case Zstd:
		return "zstd -d -T0 -q"
	case LZ4:
		return "zstd -d -T0 -q --format=lz4"
	default:
		return ""
	}
}

// DataType identifies which subtree a single archive holds.
type DataType string

const (
	APK    DataType = "apk"
	User   DataType = "user"
	UserDE DataType = "user_de"
	Data   DataType = "data"
	Obb    DataType = "obb"
	Media  DataType = "media"
)

// PackageDataTypes are the per-package data components, in backup order.
var PackageDataTypes = []DataType{User, UserDE, Data, Obb}

// ParseDataType parses a data type name.
func ParseDataType(s string) (DataType, error) {
	switch d := DataType(s); d {
	case APK, User, UserDE, Data, Obb, Media:
		return d, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// DataTypeFromFileName returns the component an archive file name holds,
// e.g. user_de.tar.zst -> UserDE.
func DataTypeFromFileName(name string) (DataType, bool) {
	base, _, ok := strings.Cut(name, ".tar")
	if !ok {
		return "", false
	}
	switch d := DataType(base); d {
	case APK, User, UserDE, Data, Obb:
		return d, true
	}
	return "", false
}

// ArchiveName returns the file name for an archive of base, e.g.
// ArchiveName("user", Zstd) == "user.tar.zst".
func ArchiveName(base string, c CompressionType) string {
	return base + "." + c.Suffix()
}

// Exclusions returns the tar --exclude patterns for a data type. name is
// the top-level directory inside the archive (package name or media
// directory name).
func Exclusions(d DataType, name string) []string {
	switch d {
	case User, UserDE:
		return []string{
			name + "/.ota",
			name + "/cache",
			name + "/lib",
			name + "/code_cache",
			name + "/no_backup",
		}
	case Data, Obb, Media:
		return []string{
			"Backup_*",
			name + "/cache",
		}
	default:
		return nil
	}
}

// Strategy is the backup policy.
type Strategy string

const (
	// Cover overwrites one archive per component and skips unchanged data.
	Cover Strategy = "cover"
	// ByTime writes every run into a new date directory.
	ByTime Strategy = "by_time"
)

// DateLayout names the date directories of by_time backups.
const DateLayout = "2006-01-02_15-04-05"

// ParseStrategy parses a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Cover, ByTime:
		return st, nil
	}
	return "", fmt.Errorf("unknown backup strategy %q (want cover or by_time)", s)
}
