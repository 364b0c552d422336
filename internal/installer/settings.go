package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/databackup-cli/databackup/internal/shell"
)

// Namespace is a settings table.
type Namespace string

const (
	Global Namespace = "global"
	Secure Namespace = "secure"
	System Namespace = "system"
)

// Setting is one namespaced key and its value. An empty Value means unset.
type Setting struct {
	Namespace Namespace `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
}

// installEnv disables the checks that block unattended installs.
var installEnv = []Setting{
	{Global, "verifier_verify_adb_installs", "0"},
	{Global, "package_verifier_enable", "0"},
	{Global, "package_verifier_user_consent", "-1"},
	{Global, "upload_apk_enable", "0"},
}

const (
	keyInputMethod   = "default_input_method"
	keyAccessibility = "enabled_accessibility_services"
	keyA11yEnabled   = "accessibility_enabled"
)

// Settings reads and writes Android settings with the settings command.
type Settings struct {
	sh shell.Executor
}

// NewSettings creates a Settings.
func NewSettings(sh shell.Executor) *Settings {
	return &Settings{sh: sh}
}

// Get returns the value of key, or "" when it is unset.
func (s *Settings) Get(ctx context.Context, ns Namespace, key string) (string, error) {
	cmd := shell.Cmd("settings", "get", string(ns), key).String()
	r := s.sh.ExecuteQuiet(ctx, cmd)
	if err := r.Err(cmd); err != nil {
		return "", err
	}
	v := r.Output()
	if v == "null" {
		return "", nil
	}
	return v, nil
}

// Put sets key to value. An empty value deletes the key.
func (s *Settings) Put(ctx context.Context, ns Namespace, key, value string) error {
	var cmd string
	if value == "" {
		cmd = shell.Cmd("settings", "delete", string(ns), key).String()
	} else {
		cmd = shell.Cmd("settings", "put", string(ns), key, value).String()
	}
	return s.sh.Execute(ctx, cmd).Err(cmd)
}

// SetInstallEnv turns off package verification and upload consent. Every
// setting is attempted; the failures are joined.
func (s *Settings) SetInstallEnv(ctx context.Context) error {
	var errs []error
	for _, st := range installEnv {
		if err := s.Put(ctx, st.Namespace, st.Key, st.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Settings) DefaultInputMethod(ctx context.Context) (string, error) {
	return s.Get(ctx, Secure, keyInputMethod)
}

func (s *Settings) SetDefaultInputMethod(ctx context.Context, id string) error {
	return s.Put(ctx, Secure, keyInputMethod, id)
}

// AccessibilityServices returns the enabled services, in order.
func (s *Settings) AccessibilityServices(ctx context.Context) ([]string, error) {
	v, err := s.Get(ctx, Secure, keyAccessibility)
	if err != nil || v == "" {
		return nil, err
	}
	return strings.Split(v, ":"), nil
}

// SetAccessibilityServices enables exactly services and switches
// accessibility on.
func (s *Settings) SetAccessibilityServices(ctx context.Context, services []string) error {
	if err := s.Put(ctx, Secure, keyAccessibility, strings.Join(services, ":")); err != nil {
		return err
	}
	return s.Put(ctx, Secure, keyA11yEnabled, "1")
}

// snapshotKeys are the settings this package may change.
func snapshotKeys() []Setting {
	keys := make([]Setting, 0, len(installEnv)+3)
	for _, st := range installEnv {
		keys = append(keys, Setting{Namespace: st.Namespace, Key: st.Key})
	}
	return append(keys,
		Setting{Namespace: Secure, Key: keyInputMethod},
		Setting{Namespace: Secure, Key: keyAccessibility},
		Setting{Namespace: Secure, Key: keyA11yEnabled},
	)
}

// Snapshot records the current value of every setting the installer and
// environment preparation touch.
func (s *Settings) Snapshot(ctx context.Context) ([]Setting, error) {
	keys := snapshotKeys()
	for i := range keys {
		v, err := s.Get(ctx, keys[i].Namespace, keys[i].Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", keys[i].Namespace, keys[i].Key, err)
		}
		keys[i].Value = v
	}
	return keys, nil
}

// Restore writes a snapshot back.
func (s *Settings) Restore(ctx context.Context, snapshot []Setting) error {
	var errs []error
	for _, st := range snapshot {
		if err := s.Put(ctx, st.Namespace, st.Key, st.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
