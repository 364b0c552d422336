package app

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/databackup-cli/databackup/internal/config"
	"github.com/databackup-cli/databackup/internal/pm"
	"github.com/databackup-cli/databackup/internal/pm/pmtest"
	"github.com/databackup-cli/databackup/internal/rootfs"
	"github.com/databackup-cli/databackup/internal/shell"
	"github.com/databackup-cli/databackup/internal/shell/shelltest"
)

type testEnv struct {
	cfg *config.Config
	sh  *shelltest.Fake
	pm  *pmtest.Fake
}

// setupTestEnv points the CLI at a temporary config, history database and
// backup root, with the shell and package manager replaced by fakes.
func setupTestEnv(t *testing.T, pkgs ...pm.Package) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	cfg := config.Default()
	cfg.BackupRoot = filepath.Join(tmp, "backup")
	cfgFile := filepath.Join(tmp, "config.yaml")
	if err := cfg.Save(cfgFile); err != nil {
		t.Fatalf("save config: %v", err)
	}

	env := &testEnv{cfg: cfg, sh: shelltest.New(), pm: pmtest.New(pkgs...)}

	oldConfig, oldDB := configPath, dbPath
	oldExec, oldPM := newExecutor, newPackageManager
	configPath = cfgFile
	dbPath = filepath.Join(tmp, "history.db")
	newExecutor = func(*config.Config, *slog.Logger) shell.Executor { return env.sh }
	newPackageManager = func(shell.Executor, *rootfs.FS) pm.Manager { return env.pm }
	t.Cleanup(func() {
		configPath, dbPath = oldConfig, oldDB
		newExecutor, newPackageManager = oldExec, oldPM
	})
	return env
}

// runCLI executes the root command with args and returns its combined
// output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetErr(&buf)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})
	err := RootCmd.Execute()
	return buf.String(), err
}
