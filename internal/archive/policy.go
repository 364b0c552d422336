package archive

import (
	"context"
	"fmt"
)

// State is the result of processing one archive.
type State int

const (
	Succeeded State = iota
	Skipped
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Policy controls the skip and verification behaviour of Compress.
type Policy struct {
	Strategy Strategy
	// TestArchive runs Test after compressing and deletes archives that fail.
	TestArchive bool
}

// Outcome reports what Compress did. Size is the freshly measured source
// size; callers persist it and pass it back as recordedSize next time.
type Outcome struct {
	State   State
	Message string
	Size    string
	Err     error
}

// Compress archives one data component or media directory, skipping the
// work under the Cover strategy when the source size is unchanged and the
// previous archive is still on disk.
func (c *Codec) Compress(ctx context.Context, req Request, policy Policy, recordedSize string) Outcome {
	size, err := c.fs.Size(ctx, req.Source(), "")
	if err != nil {
		c.logger.Debug("could not size source", "path", req.Source(), "error", err)
	}

	if out, skip := c.shouldSkip(ctx, req, policy, size, recordedSize); skip {
		return c.dropOtherFormats(ctx, req, out)
	}

	text, err := c.CompressComponent(ctx, req)
	if err != nil {
		return Outcome{State: Failed, Message: text, Size: recordedSize, Err: err}
	}
	return c.dropOtherFormats(ctx, req, c.verify(ctx, req, policy, size, text))
}

// CompressAPKWithPolicy is Compress for the APK component; only *.apk files
// count towards the size.
func (c *Codec) CompressAPKWithPolicy(ctx context.Context, req Request, policy Policy, recordedSize string) Outcome {
	req.DataType = APK
	size, err := c.fs.Size(ctx, req.SourceDir, "*.apk")
	if err != nil {
		c.logger.Debug("could not size apk directory", "path", req.SourceDir, "error", err)
	}

	if out, skip := c.shouldSkip(ctx, req, policy, size, recordedSize); skip {
		return c.dropOtherFormats(ctx, req, out)
	}

	text, err := c.CompressAPK(ctx, req)
	if err != nil {
		return Outcome{State: Failed, Message: text, Size: recordedSize, Err: err}
	}
	return c.dropOtherFormats(ctx, req, c.verify(ctx, req, policy, size, text))
}

func (c *Codec) shouldSkip(ctx context.Context, req Request, policy Policy, size, recordedSize string) (Outcome, bool) {
	if policy.Strategy != Cover || size == "" || size != recordedSize {
		return Outcome{}, false
	}
	target := req.Target()
	if !c.fs.Exists(ctx, target) {
		c.logger.Info("size unchanged but archive missing, compressing again", "archive", target)
		return Outcome{}, false
	}
	return Outcome{State: Skipped, Message: "no changes since last backup", Size: size}, true
}

func (c *Codec) verify(ctx context.Context, req Request, policy Policy, size, text string) Outcome {
	target := req.Target()
	if !c.fs.Exists(ctx, target) {
		return Outcome{State: Failed, Message: text, Err: fmt.Errorf("%w: %s", ErrArchiveMissing, target)}
	}

	if policy.TestArchive {
		if out, err := c.Test(ctx, req.Compression, target); err != nil {
			if rmErr := c.fs.Remove(ctx, target); rmErr != nil {
				c.logger.Warn("failed to delete corrupt archive", "archive", target, "error", rmErr)
			}
			return Outcome{State: Failed, Message: out, Err: fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, target, err)}
		}
	}

	return Outcome{State: Succeeded, Message: text, Size: size}
}

// dropOtherFormats deletes archives of the same component written with a
// different compression into the same directory, once the current archive
// is in place. A Cover directory then holds one archive per component even
// after the compression setting changes.
func (c *Codec) dropOtherFormats(ctx context.Context, req Request, out Outcome) Outcome {
	if out.State == Failed {
		return out
	}
	for _, other := range []CompressionType{Tar, Zstd, LZ4} {
		if other == req.Compression {
			continue
		}
		stale := req
		stale.Compression = other
		target := stale.Target()
		if !c.fs.Exists(ctx, target) {
			continue
		}
		if err := c.fs.Remove(ctx, target); err != nil {
			c.logger.Warn("failed to delete archive in another format", "archive", target, "error", err)
			continue
		}
		c.logger.Info("deleted archive in another format", "archive", target)
	}
	return out
}
