// Package archive builds and runs the tar pipelines that turn an app's APK,
// data directories or a media folder into a single archive and back.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/shell"
)

// MarkerName is the sidecar file written inside a media directory while it
// is archived. It holds the directory's absolute path.
const MarkerName = ".databackup_path"

var (
	ErrSourceMissing  = errors.New("source path does not exist")
	ErrArchiveMissing = errors.New("archive missing after compression")
	ErrArchiveCorrupt = errors.New("archive failed integrity test")
	ErrMarkerMissing  = errors.New("media path marker missing or empty")
)

// Codec compresses and decompresses archives through the shell gateway.
type Codec struct {
	sh         shell.Executor
	fs         *rootfs.FS
	scratchDir string
	logger     *slog.Logger
}

// New creates a Codec. scratchDir is used for temporary extraction.
func New(sh shell.Executor, fs *rootfs.FS, scratchDir string, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{sh: sh, fs: fs, scratchDir: scratchDir, logger: logger}
}

// Request describes one archive to produce.
type Request struct {
	Compression CompressionType
	DataType    DataType
	// PackageName is the package for package data, or the logical media
	// name (e.g. "Pictures") for media.
	PackageName string
	OutputDir   string
	// SourceDir is the parent of the package directory (e.g. /data/user/0)
	// for package data, the media directory itself for media, and the APK
	// directory for APK archives.
	SourceDir      string
	CompatibleMode bool
}

// Target returns the archive path the request produces.
func (r Request) Target() string {
	base := string(r.DataType)
	if r.DataType == Media {
		base = r.PackageName
	}
	return path.Join(r.OutputDir, ArchiveName(base, r.Compression))
}

// Source returns the path whose contents end up in the archive.
func (r Request) Source() string {
	switch r.DataType {
	case Media, APK:
		return r.SourceDir
	default:
		return path.Join(r.SourceDir, r.PackageName)
	}
}

// tarCreate builds the tar invocation that writes target. operands adds
// the -C, --exclude and entry arguments.
func tarCreate(c CompressionType, compatible bool, target string, operands func(*shell.Command)) *shell.Command {
	cmd := shell.Cmd("tar")
	compressor := c.compressor()
	switch {
	case compressor == "":
		cmd.Arg("-cpf", target)
	case compatible:
		cmd.Arg("-cpf", "-")
	default:
		cmd.Arg("-I", compressor, "-cpf", target)
	}
	operands(cmd)
	if compressor != "" && compatible {
		cmd.Pipe(shell.Cmd(compressor)).To(target)
	}
	return cmd
}

// treeOperands archives entry from dir, applying excludes.
func treeOperands(dir string, excludes []string, entry string) func(*shell.Command) {
	return func(cmd *shell.Command) {
		cmd.Arg("-C", dir)
		for _, e := range excludes {
			cmd.Flag("--exclude", e)
		}
		cmd.Arg(entry)
	}
}

// tarExtract builds the tar invocation that extracts archive into dir.
func tarExtract(c CompressionType, compatible bool, archivePath, dir string, excludes []string, cleanRestore bool, members ...string) *shell.Command {
	decompressor := c.decompressor()
	var cmd *shell.Command
	switch {
	case decompressor == "":
		cmd = shell.Cmd("tar", "-xmpf", archivePath)
	case compatible:
		cmd = shell.Cmd(decompressor).Arg("-c", archivePath).Pipe(shell.Cmd("tar", "-xmpf", "-"))
	default:
		cmd = shell.Cmd("tar", "-I", decompressor, "-xmpf", archivePath)
	}
	cmd.Arg("-C", dir)
	for _, e := range excludes {
		cmd.Flag("--exclude", e)
	}
	if cleanRestore {
		cmd.Arg("--recursive-unlink")
	}
	if len(members) > 0 {
		cmd.Arg("--wildcards").Arg(members...)
	}
	return cmd
}

// CompressComponent archives one package data component or a media
// directory into req.Target(). It returns the trimmed tar output as
// diagnostic text.
func (c *Codec) CompressComponent(ctx context.Context, req Request) (string, error) {
	src := req.Source()
	if !c.fs.Exists(ctx, src) {
		return fmt.Sprintf("%s does not exist", src), fmt.Errorf("%w: %s", ErrSourceMissing, src)
	}
	if err := c.fs.MkdirAll(ctx, req.OutputDir); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", req.OutputDir, err)
	}

	target := req.Target()
	var cmd *shell.Command

	if req.DataType == Media {
		name := path.Base(src)
		marker := path.Join(src, MarkerName)
		if err := c.fs.WriteText(ctx, marker, src); err != nil {
			return "", fmt.Errorf("failed to write path marker: %w", err)
		}
		defer func() {
			if err := c.fs.Remove(ctx, marker); err != nil {
				c.logger.Warn("failed to remove path marker", "path", marker, "error", err)
			}
		}()
		cmd = tarCreate(req.Compression, req.CompatibleMode, target, treeOperands(path.Dir(src), Exclusions(Media, name), name))
	} else {
		cmd = tarCreate(req.Compression, req.CompatibleMode, target,
			treeOperands(req.SourceDir, Exclusions(req.DataType, req.PackageName), req.PackageName))
	}

	r := c.sh.Execute(ctx, cmd.String())
	return r.Output(), r.Err(cmd.String())
}

// CompressAPK archives every *.apk file in req.SourceDir into req.Target().
func (c *Codec) CompressAPK(ctx context.Context, req Request) (string, error) {
	req.DataType = APK
	if !c.fs.Exists(ctx, req.SourceDir) {
		return fmt.Sprintf("%s does not exist", req.SourceDir), fmt.Errorf("%w: %s", ErrSourceMissing, req.SourceDir)
	}
	if err := c.fs.MkdirAll(ctx, req.OutputDir); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", req.OutputDir, err)
	}

	// The glob has to expand inside the APK directory, hence the cd.
	create := tarCreate(req.Compression, req.CompatibleMode, req.Target(), func(cmd *shell.Command) {
		cmd.Raw("*.apk")
	})
	cmd := shell.Cmd("cd", req.SourceDir).And(create)

	r := c.sh.Execute(ctx, cmd.String())
	return r.Output(), r.Err(cmd.String())
}

// DecompressRequest describes one archive to extract.
type DecompressRequest struct {
	Compression CompressionType
	DataType    DataType
	ArchivePath string
	// PackageName is the package for package data, or the media name.
	PackageName    string
	TargetDir      string
	CompatibleMode bool
	// CleanRestore removes files that are not in the archive.
	CleanRestore bool
}

// Decompress extracts an archive. Media archives are extracted to the path
// recorded in their marker file rather than to TargetDir.
func (c *Codec) Decompress(ctx context.Context, req DecompressRequest) (string, error) {
	if req.DataType == Media {
		return c.decompressMedia(ctx, req)
	}

	if err := c.fs.MkdirAll(ctx, req.TargetDir); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", req.TargetDir, err)
	}
	cmd := tarExtract(req.Compression, req.CompatibleMode, req.ArchivePath, req.TargetDir,
		Exclusions(req.DataType, req.PackageName), req.CleanRestore)
	r := c.sh.Execute(ctx, cmd.String())
	return r.Output(), r.Err(cmd.String())
}

// MediaOriginalPath extracts only the path marker from a media archive and
// returns the directory it was created from.
func (c *Codec) MediaOriginalPath(ctx context.Context, req DecompressRequest) (string, error) {
	scratch := path.Join(c.scratchDir, "media_marker")
	if err := c.fs.Remove(ctx, scratch); err != nil {
		return "", err
	}
	if err := c.fs.MkdirAll(ctx, scratch); err != nil {
		return "", err
	}
	defer func() {
		if err := c.fs.Remove(ctx, scratch); err != nil {
			c.logger.Warn("failed to remove scratch directory", "path", scratch, "error", err)
		}
	}()

	cmd := tarExtract(req.Compression, req.CompatibleMode, req.ArchivePath, scratch, nil, false, "*/"+MarkerName)
	if r := c.sh.Execute(ctx, cmd.String()); !r.Succeeded {
		return "", fmt.Errorf("%w: %v", ErrMarkerMissing, r.Err(cmd.String()))
	}

	found, err := c.fs.Find(ctx, scratch, MarkerName)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", ErrMarkerMissing
	}
	original, err := c.fs.ReadText(ctx, path.Join(scratch, found[0]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMarkerMissing, err)
	}
	if original == "" {
		return "", ErrMarkerMissing
	}
	return original, nil
}

func (c *Codec) decompressMedia(ctx context.Context, req DecompressRequest) (string, error) {
	original, err := c.MediaOriginalPath(ctx, req)
	if err != nil {
		return "", err
	}

	parent := path.Dir(original)
	if err := c.fs.MkdirAll(ctx, parent); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", parent, err)
	}
	cmd := tarExtract(req.Compression, req.CompatibleMode, req.ArchivePath, parent,
		Exclusions(Media, path.Base(original)), req.CleanRestore)
	r := c.sh.Execute(ctx, cmd.String())
	if err := r.Err(cmd.String()); err != nil {
		return r.Output(), err
	}

	if err := c.fs.Remove(ctx, path.Join(original, MarkerName)); err != nil {
		c.logger.Warn("failed to remove restored path marker", "path", original, "error", err)
	}
	return r.Output(), nil
}

// Test lists the archive without extracting it to check its integrity.
func (c *Codec) Test(ctx context.Context, compression CompressionType, archivePath string) (string, error) {
	var cmd *shell.Command
	if d := compression.decompressor(); d != "" {
		cmd = shell.Cmd(d).Arg("-c", archivePath).Pipe(shell.Cmd("tar", "-t", "-f", "-"))
	} else {
		cmd = shell.Cmd("tar", "-t", "-f", archivePath)
	}
	cmd.To("/dev/null")

	r := c.sh.Execute(ctx, cmd.String())
	return r.Output(), r.Err(cmd.String())
}
