package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file name inside Dir().
const FileName = "config.toml"

// Duration is a time.Duration that reads from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete scribe configuration.
type Config struct {
	Editor  EditorConfig  `toml:"editor"`
	Safety  SafetyConfig  `toml:"safety"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
}

// EditorConfig configures the editing core.
type EditorConfig struct {
	TabWidth             int      `toml:"tab_width"`
	PageSize             int      `toml:"page_size"`
	MaxUndoEntries       int      `toml:"max_undo_entries"`
	MaxUndoMemoryMB      int      `toml:"max_undo_memory_mb"`
	GroupTimeout         Duration `toml:"group_timeout"`
	LargeFileThresholdMB int      `toml:"large_file_threshold_mb"`
}

// SafetyConfig configures auto-save, recovery and file watching.
type SafetyConfig struct {
	AutoSave              bool     `toml:"auto_save"`
	AutoSaveInterval      Duration `toml:"auto_save_interval"`
	AutoSaveEditThreshold int      `toml:"auto_save_edit_threshold"`
	RecoveryDir           string   `toml:"recovery_dir"`
	Watch                 bool     `toml:"watch"`
}

// HistoryConfig configures the time machine.
type HistoryConfig struct {
	Enabled     bool             `toml:"enabled"`
	StorageRoot string           `toml:"storage_root"`
	Retention   RetentionConfig  `toml:"retention"`
	LargeFiles  LargeFilesConfig `toml:"large_files"`
	GC          GCConfig         `toml:"gc"`
}

// RetentionConfig selects a retention policy: forever, days, commits or size.
// Value is days, a commit count, or bytes respectively.
type RetentionConfig struct {
	Policy string `toml:"policy"`
	Value  int64  `toml:"value"`
}

// LargeFilesConfig selects the large-file strategy: warn, skip, error or lfs.
type LargeFilesConfig struct {
	ThresholdMB        int64  `toml:"threshold_mb"`
	Strategy           string `toml:"strategy"`
	ExcludeFromHistory bool   `toml:"exclude_from_history"`
}

// GCConfig configures automatic repository compaction.
type GCConfig struct {
	Enabled          bool  `toml:"enabled"`
	CommitsThreshold int   `toml:"commits_threshold"`
	SizeThresholdMB  int64 `toml:"size_threshold_mb"`
	Aggressive       bool  `toml:"aggressive"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level       string `toml:"level"`
	File        string `toml:"file"`
	Development bool   `toml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Editor: EditorConfig{
			TabWidth:             4,
			PageSize:             20,
			MaxUndoEntries:       1000,
			MaxUndoMemoryMB:      64,
			GroupTimeout:         Duration(500 * time.Millisecond),
			LargeFileThresholdMB: 10,
		},
		Safety: SafetyConfig{
			AutoSave:              true,
			AutoSaveInterval:      Duration(30 * time.Second),
			AutoSaveEditThreshold: 200,
			Watch:                 true,
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: RetentionConfig{Policy: "forever"},
			LargeFiles: LargeFilesConfig{
				ThresholdMB: 50,
				Strategy:    "warn",
			},
			GC: GCConfig{
				Enabled:          true,
				CommitsThreshold: 1000,
				SizeThresholdMB:  100,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Dir returns the configuration directory.
// Order: $SCRIBE_CONFIG_HOME, $XDG_CONFIG_HOME/scribe, ~/.config/scribe.
func Dir() (string, error) {
	if v := os.Getenv("SCRIBE_CONFIG_HOME"); v != "" {
		return v, nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "scribe"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "scribe"), nil
}

// DataDir returns the directory holding history and recovery data.
// Order: $SCRIBE_DATA_HOME, ~/.scribe.
func DataDir() (string, error) {
	if v := os.Getenv("SCRIBE_DATA_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".scribe"), nil
}

// Load reads the config file at path over the defaults, applies environment
// overrides, fills derived paths and validates the result.
// An empty path means Dir()/config.toml.
func Load(path string) (*Config, error) {
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, FileName)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.fillPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths sets storage locations that were left empty.
func (c *Config) fillPaths() error {
	if c.History.StorageRoot != "" && c.Safety.RecoveryDir != "" {
		return nil
	}
	data, err := DataDir()
	if err != nil {
		return err
	}
	if c.History.StorageRoot == "" {
		c.History.StorageRoot = filepath.Join(data, "history")
	}
	if c.Safety.RecoveryDir == "" {
		c.Safety.RecoveryDir = filepath.Join(data, "recovery")
	}
	return nil
}

// Validate checks value ranges and enum spellings.
func (c *Config) Validate() error {
	var errs []error

	if c.Editor.TabWidth <= 0 {
		errs = append(errs, fmt.Errorf("editor.tab_width must be positive"))
	}
	if c.Editor.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("editor.page_size must be positive"))
	}
	if c.Editor.MaxUndoEntries <= 0 {
		errs = append(errs, fmt.Errorf("editor.max_undo_entries must be positive"))
	}

	switch strings.ToLower(c.History.Retention.Policy) {
	case "forever":
	case "days", "commits", "size":
		if c.History.Retention.Value <= 0 {
			errs = append(errs, fmt.Errorf("history.retention.value must be positive for policy %q", c.History.Retention.Policy))
		}
	default:
		errs = append(errs, fmt.Errorf("history.retention.policy %q is not one of forever, days, commits, size", c.History.Retention.Policy))
	}

	switch strings.ToLower(c.History.LargeFiles.Strategy) {
	case "warn", "skip", "error", "lfs":
	default:
		errs = append(errs, fmt.Errorf("history.large_files.strategy %q is not one of warn, skip, error, lfs", c.History.LargeFiles.Strategy))
	}
	if c.History.LargeFiles.ThresholdMB <= 0 {
		errs = append(errs, fmt.Errorf("history.large_files.threshold_mb must be positive"))
	}

	if c.Safety.AutoSave && c.Safety.AutoSaveInterval.Std() <= 0 && c.Safety.AutoSaveEditThreshold <= 0 {
		errs = append(errs, fmt.Errorf("safety.auto_save needs an interval or an edit threshold"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ParseError reports a malformed config file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
