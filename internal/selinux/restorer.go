// Package selinux restores file ownership and SELinux contexts on data that
// was extracted from an archive.
package selinux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/shell"
)

var ErrNoUID = errors.New("package has no uid")

// Rule rewrites one context type when a context is inherited from the
// parent directory.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultRules covers parents that report the system variant of the data
// file type for app data trees.
var DefaultRules = []Rule{{From: "system_data_file", To: "app_data_file"}}

// Restorer applies uid/gid ownership and SELinux contexts.
type Restorer struct {
	sh     shell.Executor
	pm     pm.Manager
	logger *slog.Logger

	// SupportFixContext enables chcon; some devices lack it.
	SupportFixContext bool
	Rules             []Rule
}

// New creates a Restorer with DefaultRules.
func New(sh shell.Executor, manager pm.Manager, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{
		sh:                sh,
		pm:                manager,
		logger:            logger,
		SupportFixContext: true,
		Rules:             DefaultRules,
	}
}

// Context returns the SELinux context of p as reported by ls -Zd.
func (r *Restorer) Context(ctx context.Context, p string) (string, error) {
	cmd := shell.Cmd("ls", "-Zd", p).String()
	res := r.sh.ExecuteQuiet(ctx, cmd)
	if err := res.Err(cmd); err != nil {
		return "", err
	}
	return parseContext(res.Lines)
}

// parseContext picks the label out of `ls -Zd` output. Toybox prints
// "label path"; some builds also print mode and owner columns first.
func parseContext(lines []string) (string, error) {
	for _, line := range lines {
		for _, field := range strings.Fields(line) {
			if strings.Count(field, ":") >= 3 {
				return field, nil
			}
		}
	}
	return "", fmt.Errorf("no selinux context in %q", strings.Join(lines, "\n"))
}

// Substitute applies the rules to a context.
func (r *Restorer) Substitute(label string) string {
	for _, rule := range r.Rules {
		if rule.From == "" {
			continue
		}
		label = strings.ReplaceAll(label, rule.From, rule.To)
	}
	return label
}

// SetOwnerAndContext chowns p to the package's uid and, when supported,
// applies explicitContext or the parent directory's context. A missing uid
// fails immediately; later step failures are collected while the remaining
// steps still run.
func (r *Restorer) SetOwnerAndContext(ctx context.Context, dataType archive.DataType, packageName, p string, userID int, explicitContext string) (string, error) {
	uid, err := r.pm.UID(ctx, packageName, userID)
	if err != nil || uid == -1 {
		return fmt.Sprintf("could not resolve uid of %s", packageName), fmt.Errorf("%w: %s: %v", ErrNoUID, packageName, err)
	}

	var out []string
	var errs []error
	target := strings.TrimSuffix(p, "/") + "/"

	chown := shell.Cmd("chown", "-hR", fmt.Sprintf("%d:%d", uid, uid), target).String()
	res := r.sh.Execute(ctx, chown)
	if err := res.Err(chown); err != nil {
		out = append(out, res.Output())
		errs = append(errs, err)
	}

	if r.SupportFixContext {
		label := explicitContext
		if label == "" {
			parent, err := r.Context(ctx, target+"../")
			if err != nil {
				out = append(out, err.Error())
				errs = append(errs, fmt.Errorf("failed to read parent context of %s: %w", p, err))
			} else {
				label = r.Substitute(parent)
			}
		}
		if label != "" {
			chcon := shell.Cmd("chcon", "-hR", label, target).String()
			res := r.sh.Execute(ctx, chcon)
			if err := res.Err(chcon); err != nil {
				out = append(out, res.Output())
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		r.logger.Warn("ownership restore incomplete", "package", packageName, "type", dataType, "path", p)
	}
	return strings.TrimSpace(strings.Join(out, "\n")), errors.Join(errs...)
}
