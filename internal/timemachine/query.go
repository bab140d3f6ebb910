package timemachine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/scribe/internal/editorerr"
)

// DefaultPageSize is the number of commits per page.
const DefaultPageSize = 20

func (m *Manager) logLocked(ctx context.Context, r *repo, args ...string) ([]Commit, error) {
	if !r.hasHead(ctx) {
		return nil, nil
	}
	full := append([]string{"log", "--format=" + commitLogFormat}, args...)
	full = append(full, "HEAD", "--")
	out, err := r.run(ctx, full...)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "list commits", r.dir, err)
	}
	commits, err := parseCommitLog(out)
	if err != nil {
		return nil, editorerr.New(editorerr.KindCorruptRepository, "list commits", r.dir, err)
	}
	attachAnnotations(r, commits)
	return commits, nil
}

func (m *Manager) countLocked(ctx context.Context, r *repo) (int, error) {
	if !r.hasHead(ctx) {
		return 0, nil
	}
	out, err := r.run(ctx, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, editorerr.New(editorerr.KindGit, "count commits", r.dir, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse commit count: %w", err)
	}
	return n, nil
}

// Commits returns the full history of project, newest first.
func (m *Manager) Commits(ctx context.Context, project string) ([]Commit, error) {
	var commits []Commit
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		commits, err = m.logLocked(ctx, r)
		return err
	})
	return commits, err
}

// ListCommits returns page (0-based) of project's history, newest first.
// A pageSize of zero or less uses DefaultPageSize.
func (m *Manager) ListCommits(ctx context.Context, project string, page, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	res := Page{Page: page, PageSize: pageSize}
	err := m.withRepo(ctx, project, func(r *repo) error {
		total, err := m.countLocked(ctx, r)
		if err != nil {
			return err
		}
		res.Total = total
		if page*pageSize >= total {
			return nil
		}
		res.Commits, err = m.logLocked(ctx, r,
			"--skip="+strconv.Itoa(page*pageSize), "-n", strconv.Itoa(pageSize))
		return err
	})
	return res, err
}

// SearchCommits returns commits whose message contains query, ignoring case.
func (m *Manager) SearchCommits(ctx context.Context, project, query string) ([]Commit, error) {
	var commits []Commit
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		commits, err = m.logLocked(ctx, r, "-i", "--fixed-strings", "--grep="+query)
		return err
	})
	return commits, err
}

// CommitsTouching returns commits that changed a path containing substr.
func (m *Manager) CommitsTouching(ctx context.Context, project, substr string) ([]Commit, error) {
	all, err := m.Commits(ctx, project)
	if err != nil || substr == "" {
		return all, err
	}
	var out []Commit
	for _, c := range all {
		files, err := m.FilesChanged(ctx, project, c.Hash)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if strings.Contains(f.Path, substr) || strings.Contains(f.OldPath, substr) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// CommitDetails returns one commit.
func (m *Manager) CommitDetails(ctx context.Context, project, commit string) (Commit, error) {
	var c Commit
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		c, err = m.commitLocked(ctx, r, commit)
		if err != nil {
			return err
		}
		one := []Commit{c}
		attachAnnotations(r, one)
		c = one[0]
		return nil
	})
	return c, err
}

func (m *Manager) filesChangedLocked(ctx context.Context, r *repo, commit string) ([]FileChange, error) {
	hash, err := r.resolveCommit(ctx, commit)
	if err != nil {
		return nil, err
	}
	if files, ok := m.changes.Get(cacheKey(r, hash)); ok {
		return files, nil
	}
	out, err := r.run(ctx, "diff-tree", "--root", "--no-commit-id", "-r", "-M", "--name-status", "-z", hash)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "files changed", r.dir, err)
	}
	files := parseNameStatus(out)
	m.changes.Add(cacheKey(r, hash), files)
	return files, nil
}

// FilesChanged returns the files touched by commit.
func (m *Manager) FilesChanged(ctx context.Context, project, commit string) ([]FileChange, error) {
	var files []FileChange
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		files, err = m.filesChangedLocked(ctx, r, commit)
		return err
	})
	return files, err
}

func (m *Manager) diffLocked(ctx context.Context, r *repo, from, to string, paths ...string) (*Diff, error) {
	toHash, err := r.resolveCommit(ctx, to)
	if err != nil {
		return nil, err
	}

	var args []string
	if from == "" {
		args = []string{"diff-tree", "--root", "-p", "-M", "--no-commit-id", toHash}
	} else {
		fromHash, err := r.resolveCommit(ctx, from)
		if err != nil {
			return nil, err
		}
		args = []string{"diff", "-M", fromHash, toHash}
		from = fromHash
	}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}

	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "diff", r.dir, err)
	}
	d := parseDiff(out)
	d.From, d.To = from, toHash
	return d, nil
}

// Diff returns the changes between two commits. An empty from diffs to
// against its parent.
func (m *Manager) Diff(ctx context.Context, project, from, to string) (*Diff, error) {
	var d *Diff
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		d, err = m.diffLocked(ctx, r, from, to)
		return err
	})
	return d, err
}

// FileDiff returns the changes to one file between two commits. An empty
// from diffs to against its parent.
func (m *Manager) FileDiff(ctx context.Context, project, file, from, to string) (*FileDiff, error) {
	var fd *FileDiff
	err := m.withRepo(ctx, project, func(r *repo) error {
		rel, err := projectPath(r, file)
		if err != nil {
			return err
		}
		d, err := m.diffLocked(ctx, r, from, to, rel)
		if err != nil {
			return err
		}
		if f, ok := d.File(rel); ok {
			fd = f
		} else {
			fd = &FileDiff{OldPath: rel, NewPath: rel}
		}
		return nil
	})
	return fd, err
}

// projectPath maps an absolute file path or a project-relative path to the
// slash-separated path used inside the repository.
func projectPath(r *repo, file string) (string, error) {
	if !filepath.IsAbs(file) {
		return filepath.ToSlash(filepath.Clean(file)), nil
	}
	rel, err := relativeTo(r.project, file)
	if err != nil {
		return "", editorerr.New(editorerr.KindInvalidOperation, "history", file, err)
	}
	return rel, nil
}

// CommitCount returns the number of commits.
func (m *Manager) CommitCount(ctx context.Context, project string) (int, error) {
	var n int
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		n, err = m.countLocked(ctx, r)
		return err
	})
	return n, err
}

// dirSize sums the sizes of regular files under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// RepoSize returns the on-disk size of the git directory in bytes.
func (m *Manager) RepoSize(ctx context.Context, project string) (int64, error) {
	var size int64
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		size, err = dirSize(r.gitDir)
		return err
	})
	return size, err
}

// DateRange returns the oldest and newest commit times. ok is false when
// there are no commits.
func (m *Manager) DateRange(ctx context.Context, project string) (oldest, newest time.Time, ok bool, err error) {
	commits, err := m.Commits(ctx, project)
	if err != nil || len(commits) == 0 {
		return time.Time{}, time.Time{}, false, err
	}
	oldest, newest = dateRange(commits)
	return oldest, newest, true, nil
}

func dateRange(commits []Commit) (oldest, newest time.Time) {
	oldest, newest = commits[0].Timestamp, commits[0].Timestamp
	for _, c := range commits[1:] {
		if c.Timestamp.Before(oldest) {
			oldest = c.Timestamp
		}
		if c.Timestamp.After(newest) {
			newest = c.Timestamp
		}
	}
	return oldest, newest
}

func (m *Manager) perFileStatsLocked(ctx context.Context, r *repo, commits []Commit) ([]FileStats, error) {
	counts := make(map[string]int)
	sizes := make(map[string]int64)

	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := m.filesChangedLocked(ctx, r, c.Hash)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			counts[f.Path]++
		}

		// ls-tree -l: <mode> SP <type> SP <object> SP+ <size> TAB <path>
		out, err := r.run(ctx, "ls-tree", "-r", "-l", "-z", c.Hash)
		if err != nil {
			return nil, editorerr.New(editorerr.KindGit, "file stats", r.dir, err)
		}
		for _, entry := range strings.Split(out, "\x00") {
			meta, path, ok := strings.Cut(entry, "\t")
			if !ok {
				continue
			}
			fields := strings.Fields(meta)
			if len(fields) < 4 || fields[1] != "blob" {
				continue
			}
			size, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				continue
			}
			if size > sizes[path] {
				sizes[path] = size
			}
		}
	}

	limit := m.largeFiles.ThresholdBytes()
	stats := make([]FileStats, 0, len(counts))
	for path, n := range counts {
		s := FileStats{Path: path, CommitCount: n, MaxSize: sizes[path]}
		s.Large = limit > 0 && s.MaxSize > limit
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CommitCount != stats[j].CommitCount {
			return stats[i].CommitCount > stats[j].CommitCount
		}
		return stats[i].Path < stats[j].Path
	})
	return stats, nil
}

// PerFileStats returns per-file commit counts and sizes, most-changed first.
func (m *Manager) PerFileStats(ctx context.Context, project string) ([]FileStats, error) {
	var stats []FileStats
	err := m.withRepo(ctx, project, func(r *repo) error {
		commits, err := m.logLocked(ctx, r)
		if err != nil {
			return err
		}
		stats, err = m.perFileStatsLocked(ctx, r, commits)
		return err
	})
	return stats, err
}

// LargeFilesInHistory returns the files whose largest version exceeds the
// threshold.
func (m *Manager) LargeFilesInHistory(ctx context.Context, project string) ([]FileStats, error) {
	stats, err := m.PerFileStats(ctx, project)
	if err != nil {
		return nil, err
	}
	var out []FileStats
	for _, s := range stats {
		if s.Large {
			out = append(out, s)
		}
	}
	return out, nil
}

// Bucketing keys are computed in UTC.
func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
func weekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

func (m *Manager) bucket(ctx context.Context, project string, key func(time.Time) string) (map[string]int, error) {
	commits, err := m.Commits(ctx, project)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, c := range commits {
		out[key(c.Timestamp)]++
	}
	return out, nil
}

// CommitsPerDay counts commits by UTC day (2006-01-02).
func (m *Manager) CommitsPerDay(ctx context.Context, project string) (map[string]int, error) {
	return m.bucket(ctx, project, dayKey)
}

// CommitsPerWeek counts commits by ISO week (2006-W01).
func (m *Manager) CommitsPerWeek(ctx context.Context, project string) (map[string]int, error) {
	return m.bucket(ctx, project, weekKey)
}

// CommitsPerMonth counts commits by UTC month (2006-01).
func (m *Manager) CommitsPerMonth(ctx context.Context, project string) (map[string]int, error) {
	return m.bucket(ctx, project, monthKey)
}

// Stats summarises project's history.
func (m *Manager) Stats(ctx context.Context, project string) (HistoryStats, error) {
	var hs HistoryStats
	err := m.withRepo(ctx, project, func(r *repo) error {
		commits, err := m.logLocked(ctx, r)
		if err != nil {
			return err
		}
		hs.TotalCommits = len(commits)
		if hs.RepoSize, err = dirSize(r.gitDir); err != nil {
			return editorerr.FromOS("history stats", r.gitDir, err)
		}
		if len(commits) > 0 {
			hs.Oldest, hs.Newest = dateRange(commits)
		}
		if hs.Files, err = m.perFileStatsLocked(ctx, r, commits); err != nil {
			return err
		}
		for _, f := range hs.Files {
			if f.Large {
				hs.LargeFileCount++
				hs.LargeFileBytes += f.MaxSize
			}
		}
		return nil
	})
	return hs, err
}
