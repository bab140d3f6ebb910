package timemachine

import (
	"fmt"
	"strings"
	"time"
)

// RetentionKind selects how cleanup decides which commits to keep.
type RetentionKind int

const (
	// RetainForever never evicts commits.
	RetainForever RetentionKind = iota
	// RetainDays keeps commits younger than Value days.
	RetainDays
	// RetainCommits keeps the newest Value commits.
	RetainCommits
	// RetainSize keeps the newest commits whose content fits in Value bytes.
	RetainSize
)

// String returns the config spelling of the kind.
func (k RetentionKind) String() string {
	switch k {
	case RetainForever:
		return "forever"
	case RetainDays:
		return "days"
	case RetainCommits:
		return "commits"
	case RetainSize:
		return "size"
	default:
		return "unknown"
	}
}

// RetentionPolicy is a retention kind plus its bound.
type RetentionPolicy struct {
	Kind  RetentionKind
	Value int64
}

// Forever is the default policy.
var Forever = RetentionPolicy{Kind: RetainForever}

// KeepDays returns a policy that keeps commits younger than n days.
func KeepDays(n int64) RetentionPolicy { return RetentionPolicy{Kind: RetainDays, Value: n} }

// KeepCommits returns a policy that keeps the newest n commits.
func KeepCommits(n int64) RetentionPolicy { return RetentionPolicy{Kind: RetainCommits, Value: n} }

// KeepSize returns a policy that keeps history within n bytes.
func KeepSize(n int64) RetentionPolicy { return RetentionPolicy{Kind: RetainSize, Value: n} }

func (p RetentionPolicy) String() string {
	if p.Kind == RetainForever {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", p.Kind, p.Value)
}

// ParseRetention builds a policy from its config spelling.
func ParseRetention(policy string, value int64) (RetentionPolicy, error) {
	var kind RetentionKind
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", "forever":
		return Forever, nil
	case "days":
		kind = RetainDays
	case "commits":
		kind = RetainCommits
	case "size":
		kind = RetainSize
	default:
		return RetentionPolicy{}, fmt.Errorf("unknown retention policy %q", policy)
	}
	if value <= 0 {
		return RetentionPolicy{}, fmt.Errorf("retention policy %s needs a positive value", kind)
	}
	return RetentionPolicy{Kind: kind, Value: value}, nil
}

// LargeFileStrategy is applied to files above the large-file threshold.
type LargeFileStrategy int

const (
	// StrategyWarn commits the file and logs a warning.
	StrategyWarn LargeFileStrategy = iota
	// StrategySkip leaves the file out of the commit.
	StrategySkip
	// StrategyError refuses to commit the file and reports LargeFileBlocked.
	StrategyError
	// StrategyLFS is accepted but behaves like StrategyWarn.
	StrategyLFS
)

func (s LargeFileStrategy) String() string {
	switch s {
	case StrategyWarn:
		return "warn"
	case StrategySkip:
		return "skip"
	case StrategyError:
		return "error"
	case StrategyLFS:
		return "lfs"
	default:
		return "unknown"
	}
}

// ParseStrategy parses warn, skip, error or lfs.
func ParseStrategy(s string) (LargeFileStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return StrategyWarn, nil
	case "skip":
		return StrategySkip, nil
	case "error":
		return StrategyError, nil
	case "lfs":
		return StrategyLFS, nil
	default:
		return 0, fmt.Errorf("unknown large file strategy %q", s)
	}
}

// LargeFileConfig controls how oversized files are committed.
type LargeFileConfig struct {
	ThresholdMB int64
	Strategy    LargeFileStrategy
	// ExcludeFromHistory also leaves warned files out of the commit.
	ExcludeFromHistory bool
}

// DefaultLargeFileConfig warns about files over 50 MB.
func DefaultLargeFileConfig() LargeFileConfig {
	return LargeFileConfig{ThresholdMB: 50, Strategy: StrategyWarn}
}

// ThresholdBytes returns the threshold in bytes.
func (c LargeFileConfig) ThresholdBytes() int64 {
	return c.ThresholdMB * 1024 * 1024
}

// GCConfig controls automatic repository compaction.
type GCConfig struct {
	Enabled bool
	// CommitsThreshold runs gc after this many auto-commits.
	CommitsThreshold int
	// SizeThresholdMB runs gc once the git directory reaches this size.
	SizeThresholdMB int64
	Aggressive      bool
}

// DefaultGCConfig runs gc every 1000 commits or at 100 MB.
func DefaultGCConfig() GCConfig {
	return GCConfig{Enabled: true, CommitsThreshold: 1000, SizeThresholdMB: 100}
}

// Commit is one entry of a project's history.
type Commit struct {
	Hash           string
	ShortHash      string
	Subject        string
	Message        string
	AuthorName     string
	AuthorEmail    string
	Timestamp      time.Time
	Committer      string
	CommitterEmail string
	CommitTime     time.Time
	Parents        []string
	// Annotation is the user note attached to the commit, if any.
	Annotation string
}

// ChangeStatus is how a commit touched a file.
type ChangeStatus int

const (
	StatusModified ChangeStatus = iota
	StatusAdded
	StatusDeleted
	StatusRenamed
)

func (s ChangeStatus) String() string {
	switch s {
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	case StatusRenamed:
		return "renamed"
	default:
		return "modified"
	}
}

// Letter returns the one-letter git status code.
func (s ChangeStatus) Letter() string {
	switch s {
	case StatusAdded:
		return "A"
	case StatusDeleted:
		return "D"
	case StatusRenamed:
		return "R"
	default:
		return "M"
	}
}

// FileChange is a file touched by a commit.
type FileChange struct {
	Path    string
	OldPath string
	Status  ChangeStatus
}

// CommitResult reports what an auto-commit did.
type CommitResult struct {
	// Commit is nil when nothing changed.
	Commit    *Commit
	Committed []string
	// Skipped were left out by the large-file policy.
	Skipped []string
	// Blocked were refused by StrategyError.
	Blocked []string
	// Ignored were outside the project or unreadable.
	Ignored []string
}

// Page is one page of commits, newest first.
type Page struct {
	Commits  []Commit
	Page     int
	PageSize int
	Total    int
}

// HasNext reports whether a later page exists.
func (p Page) HasNext() bool {
	return (p.Page+1)*p.PageSize < p.Total
}

// Pages returns the number of pages.
func (p Page) Pages() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// FileStats summarises one file's history.
type FileStats struct {
	Path        string
	CommitCount int
	// MaxSize is the largest stored version in bytes.
	MaxSize int64
	Large   bool
}

// HistoryStats summarises a project's history.
type HistoryStats struct {
	TotalCommits   int
	RepoSize       int64
	Oldest         time.Time
	Newest         time.Time
	Files          []FileStats
	LargeFileCount int
	LargeFileBytes int64
}

// CleanupStats reports the effect of a cleanup.
type CleanupStats struct {
	CommitsBefore int
	CommitsAfter  int
	SizeBefore    int64
	SizeAfter     int64
	// Backup is the backup taken before rewriting, if any.
	Backup string
}

// Removed returns the number of commits dropped.
func (s CleanupStats) Removed() int {
	return s.CommitsBefore - s.CommitsAfter
}

// IntegrityReport is the result of Verify.
type IntegrityReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *IntegrityReport) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *IntegrityReport) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Backup is a copy of a project's history store.
type Backup struct {
	Name    string
	Path    string
	Created time.Time
}

// RestoreOptions guards destructive restores.
type RestoreOptions struct {
	// Unsaved reports that the open buffer has unsaved changes.
	Unsaved bool
	// Confirmed is the user's explicit permission to discard them.
	Confirmed bool
}

// RestorePreview shows what a restore would change.
type RestorePreview struct {
	Commit     string
	File       string
	Historical []byte
	// Diff is current on-disk content against the historical version.
	Diff *FileDiff
	// Unchanged is true when the file already matches the commit.
	Unchanged bool
	// Missing is true when the file no longer exists on disk.
	Missing bool
}
