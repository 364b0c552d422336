// Package rootfs performs file operations with root privileges by running
// toolbox commands through the shell gateway.
package rootfs

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/databackup-cli/databackup/internal/shell"
)

// FS is a filesystem accessor backed by a shell.Executor.
type FS struct {
	sh shell.Executor
}

// New creates an FS running commands through sh.
func New(sh shell.Executor) *FS {
	return &FS{sh: sh}
}

// Exists reports whether p exists.
func (f *FS) Exists(ctx context.Context, p string) bool {
	return f.sh.ExecuteQuiet(ctx, shell.Cmd("ls", "-d", p).String()).Succeeded
}

// Size returns the total apparent size in bytes of the regular files under
// p, rendered as a decimal string so it can be compared with recorded sizes.
// A non-empty pattern restricts the count to files whose name matches it
// (find -name syntax). Sizes are apparent bytes, not disk blocks, so an
// edit within an allocated block still changes them.
func (f *FS) Size(ctx context.Context, p, pattern string) (string, error) {
	cmd := shell.Cmd("find", p, "-type", "f")
	if pattern != "" {
		cmd.Arg("-name", pattern)
	}
	cmd.Arg("-exec", "stat", "-c", "%s").Raw("{}", "+")

	r := f.sh.ExecuteQuiet(ctx, cmd.String())
	if err := r.Err(cmd.String()); err != nil {
		return "", fmt.Errorf("failed to size %s: %w", p, err)
	}
	var total int64
	for _, n := range leadingInts(r.Lines) {
		total += n
	}
	return strconv.FormatInt(total, 10), nil
}

// SizeBytes is Size parsed as an integer.
func (f *FS) SizeBytes(ctx context.Context, p string) (int64, error) {
	s, err := f.Size(ctx, p, "")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// ModTime returns the newest modification time of any regular file under
// p. Archives are rewritten in place, so the directory's own mtime does not
// track them.
func (f *FS) ModTime(ctx context.Context, p string) (time.Time, error) {
	cmd := shell.Cmd("find", p, "-type", "f", "-exec", "stat", "-c", "%Y").Raw("{}", "+")
	r := f.sh.ExecuteQuiet(ctx, cmd.String())
	if err := r.Err(cmd.String()); err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	stamps := leadingInts(r.Lines)
	if len(stamps) == 0 {
		return time.Time{}, fmt.Errorf("no files under %s", p)
	}
	newest := stamps[0]
	for _, s := range stamps[1:] {
		newest = max(newest, s)
	}
	return time.Unix(newest, 0), nil
}

// leadingInts parses the first column of each line. Lines that do not start
// with a number are ignored.
func leadingInts(lines []string) []int64 {
	var out []int64
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Remove deletes p recursively.
func (f *FS) Remove(ctx context.Context, p string) error {
	cmd := shell.Cmd("rm", "-rf", p).String()
	return f.sh.Execute(ctx, cmd).Err(cmd)
}

// MkdirAll creates p and any missing parents.
func (f *FS) MkdirAll(ctx context.Context, p string) error {
	cmd := shell.Cmd("mkdir", "-p", p).String()
	return f.sh.Execute(ctx, cmd).Err(cmd)
}

// ReadText returns the content of the file at p with trailing whitespace
// removed.
func (f *FS) ReadText(ctx context.Context, p string) (string, error) {
	cmd := shell.Cmd("cat", p).String()
	r := f.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(r.Lines, "\n")), nil
}

// WriteText replaces the file at p with text.
func (f *FS) WriteText(ctx context.Context, p, text string) error {
	cmd := shell.Cmd("printf", "%s", text).To(p).String()
	return f.sh.Execute(ctx, cmd).Err(cmd)
}

// List returns the names of the entries directly inside dir.
func (f *FS) List(ctx context.Context, dir string) ([]string, error) {
	cmd := shell.Cmd("ls", "-1", dir).String()
	r := f.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return nil, err
	}
	var names []string
	for _, line := range r.Lines {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Find lists regular files under root whose name matches pattern and
// returns their paths relative to root. A missing root yields no paths.
func (f *FS) Find(ctx context.Context, root, pattern string) ([]string, error) {
	if !f.Exists(ctx, root) {
		return nil, nil
	}
	cmd := shell.Cmd("find", root, "-type", "f", "-name", pattern).String()
	r := f.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(path.Clean(root), "/") + "/"
	var rel []string
	for _, line := range r.Lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rel = append(rel, strings.TrimPrefix(line, prefix))
	}
	return rel, nil
}
