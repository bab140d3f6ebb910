package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "SCRIBE_"

// envSetter applies one environment value to a config.
type envSetter func(c *Config, value string) error

// envMapping maps environment variable names (without prefix) to setters.
var envMapping = map[string]envSetter{
	"TAB_WIDTH":        intField(func(c *Config) *int { return &c.Editor.TabWidth }),
	"PAGE_SIZE":        intField(func(c *Config) *int { return &c.Editor.PageSize }),
	"MAX_UNDO_ENTRIES": intField(func(c *Config) *int { return &c.Editor.MaxUndoEntries }),
	"GROUP_TIMEOUT":    durationField(func(c *Config) *Duration { return &c.Editor.GroupTimeout }),

	"AUTO_SAVE":          boolField(func(c *Config) *bool { return &c.Safety.AutoSave }),
	"AUTO_SAVE_INTERVAL": durationField(func(c *Config) *Duration { return &c.Safety.AutoSaveInterval }),
	"RECOVERY_DIR":       stringField(func(c *Config) *string { return &c.Safety.RecoveryDir }),
	"WATCH":              boolField(func(c *Config) *bool { return &c.Safety.Watch }),

	"HISTORY_ENABLED":     boolField(func(c *Config) *bool { return &c.History.Enabled }),
	"HISTORY_ROOT":        stringField(func(c *Config) *string { return &c.History.StorageRoot }),
	"RETENTION_POLICY":    stringField(func(c *Config) *string { return &c.History.Retention.Policy }),
	"RETENTION_VALUE":     int64Field(func(c *Config) *int64 { return &c.History.Retention.Value }),
	"LARGE_FILE_STRATEGY": stringField(func(c *Config) *string { return &c.History.LargeFiles.Strategy }),
	"LARGE_FILE_MB":       int64Field(func(c *Config) *int64 { return &c.History.LargeFiles.ThresholdMB }),
	"GC_ENABLED":          boolField(func(c *Config) *bool { return &c.History.GC.Enabled }),
	"GC_AGGRESSIVE":       boolField(func(c *Config) *bool { return &c.History.GC.Aggressive }),

	"LOG_LEVEL": stringField(func(c *Config) *string { return &c.Logging.Level }),
	"LOG_DEV":   boolField(func(c *Config) *bool { return &c.Logging.Development }),
}

// ApplyEnv overrides cfg with SCRIBE_* environment variables.
// Empty values are treated as set.
func ApplyEnv(cfg *Config) error {
	for name, set := range envMapping {
		val, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(cfg, val); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

// parseBool accepts the spellings people put in shells.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func stringField(get func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*get(c) = v
		return nil
	}
}

func boolField(get func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*get(c) = b
		return nil
	}
}

func intField(get func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

func int64Field(get func(*Config) *int64) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

// durationField accepts Go durations ("30s") or bare milliseconds.
func durationField(get func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		v = strings.TrimSpace(v)
		if ms, err := strconv.Atoi(v); err == nil {
			*get(c) = Duration(time.Duration(ms) * time.Millisecond)
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*get(c) = Duration(d)
		return nil
	}
}
