// Package config loads the databackup settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/databackup-cli/databackup/internal/archive"
	"github.com/databackup-cli/databackup/internal/selinux"
)

// FileName is the settings file inside Dir.
const FileName = "config.yaml"

// Dir returns the databackup config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/databackup if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "databackup"), nil
}

// DefaultPath returns Dir()/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Config holds the user settings.
type Config struct {
	BackupRoot     string         `yaml:"backup_root"`
	UserID         int            `yaml:"user_id"`
	Compression    string         `yaml:"compression"`
	CompatibleMode bool           `yaml:"compatible_mode"`
	Strategy       string         `yaml:"strategy"`
	BackupTest     bool           `yaml:"backup_test"`
	CleanRestore   bool           `yaml:"clean_restore"`
	FixContext     bool           `yaml:"fix_context"`
	Shell          []string       `yaml:"shell"`
	ContextRules   []selinux.Rule `yaml:"context_rules"`
	SelfPackage    string         `yaml:"self_package"`
	// MinFreeBytes aborts a backup when the backup root has less free space.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		BackupRoot:   "/storage/emulated/0/DataBackup",
		Compression:  string(archive.Zstd),
		Strategy:     string(archive.Cover),
		BackupTest:   true,
		FixContext:   true,
		Shell:        []string{"su", "-c"},
		ContextRules: append([]selinux.Rule(nil), selinux.DefaultRules...),
		SelfPackage:  "com.databackup",
	}
}

// Load reads the settings at p over the defaults. A missing file yields
// the defaults.
func Load(p string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", p, err)
	}
	return cfg, nil
}

// Save writes the settings to p, creating its directory.
func (c *Config) Save(p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects unknown enum values and unusable paths.
func (c *Config) Validate() error {
	if _, err := archive.ParseCompressionType(c.Compression); err != nil {
		return err
	}
	if _, err := archive.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if !path.IsAbs(c.BackupRoot) {
		return fmt.Errorf("backup_root must be absolute, got %q", c.BackupRoot)
	}
	if c.UserID < 0 {
		return fmt.Errorf("user_id must not be negative, got %d", c.UserID)
	}
	if len(c.Shell) == 0 {
		return errors.New("shell must name a launcher")
	}
	return nil
}

// CompressionType returns the parsed compression.
func (c *Config) CompressionType() archive.CompressionType {
	t, err := archive.ParseCompressionType(c.Compression)
	if err != nil {
		return archive.Zstd
	}
	return t
}

// BackupStrategy returns the parsed strategy.
func (c *Config) BackupStrategy() archive.Strategy {
	s, err := archive.ParseStrategy(c.Strategy)
	if err != nil {
		return archive.Cover
	}
	return s
}

// AppsRoot holds {package}/{date}/{component} archives.
func (c *Config) AppsRoot() string { return path.Join(c.BackupRoot, "apps") }

// MediaRoot holds {name}/{date}/{name} archives.
func (c *Config) MediaRoot() string { return path.Join(c.BackupRoot, "media") }

// CatalogDir holds the JSON catalogs.
func (c *Config) CatalogDir() string { return path.Join(c.BackupRoot, "catalog") }

// ScratchDir is used for temporary extraction.
func (c *Config) ScratchDir() string { return path.Join(c.BackupRoot, "tmp") }
