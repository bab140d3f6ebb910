package timemachine

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
)

const day = 24 * 60 * 60

// retainCount returns how many of commits (newest first) the policy keeps.
// Eviction is oldest-first and the newest commit is always kept, so the
// retained commits are always a prefix of the list.
func (m *Manager) retainCount(ctx context.Context, r *repo, commits []Commit) (int, error) {
	n := len(commits)
	if n == 0 {
		return 0, nil
	}

	keep := n
	switch m.retention.Kind {
	case RetainCommits:
		keep = min(n, int(m.retention.Value))
	case RetainDays:
		now := m.now().Unix()
		keep = 0
		for _, c := range commits {
			if (now-c.Timestamp.Unix())/day > m.retention.Value {
				break
			}
			keep++
		}
	case RetainSize:
		sizes, err := commitSizes(ctx, r)
		if err != nil {
			return 0, err
		}
		var total int64
		keep = 0
		for _, c := range commits {
			total += sizes[c.Hash]
			if total > m.retention.Value {
				break
			}
			keep++
		}
	}
	return max(keep, 1), nil
}

// commitSizes returns the bytes of new content each commit introduced.
func commitSizes(ctx context.Context, r *repo) (map[string]int64, error) {
	out, err := r.run(ctx, "log", "--format=%x00%H", "--raw", "--no-abbrev", "--no-renames", "HEAD", "--")
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "commit sizes", r.dir, err)
	}

	blobs := make(map[string][]string)
	var order []string
	for _, record := range strings.Split(out, "\x00") {
		lines := splitLines(record)
		if len(lines) == 0 {
			continue
		}
		hash := strings.TrimSpace(lines[0])
		// :<old mode> <new mode> <old sha> <new sha> <status>\t<path>
		for _, line := range lines[1:] {
			meta, _, _ := strings.Cut(line, "\t")
			fields := strings.Fields(meta)
			if len(fields) < 5 || strings.Trim(fields[3], "0") == "" {
				continue
			}
			if _, seen := blobs[fields[3]]; !seen {
				order = append(order, fields[3])
			}
			blobs[fields[3]] = append(blobs[fields[3]], hash)
		}
	}

	sizes := make(map[string]int64)
	if len(order) == 0 {
		return sizes, nil
	}
	cmd := r.git("cat-file", "--batch-check=%(objectname) %(objectsize)")
	cmd.stdin = strings.NewReader(strings.Join(order, "\n") + "\n")
	out, err = cmd.run(ctx)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "commit sizes", r.dir, err)
	}
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		for _, commit := range blobs[fields[0]] {
			sizes[commit] += size
		}
	}
	return sizes, nil
}

// ShouldRetain reports whether the retention policy keeps commit.
func (m *Manager) ShouldRetain(ctx context.Context, project string, commit Commit) (bool, error) {
	if m.retention.Kind == RetainForever {
		return true, nil
	}
	var retain bool
	err := m.withRepo(ctx, project, func(r *repo) error {
		commits, err := m.logLocked(ctx, r)
		if err != nil {
			return err
		}
		keep, err := m.retainCount(ctx, r, commits)
		if err != nil {
			return err
		}
		for _, c := range commits[:keep] {
			if c.Hash == commit.Hash {
				retain = true
				break
			}
		}
		return nil
	})
	return retain, err
}

// Cleanup drops the commits the retention policy does not keep and compacts
// the repository. A backup of the store is taken before history is
// rewritten. Cancelling ctx stops the rewrite at a commit boundary without
// changing history.
func (m *Manager) Cleanup(ctx context.Context, project string) (CleanupStats, error) {
	var stats CleanupStats
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		stats, err = m.cleanupLocked(ctx, r)
		return err
	})
	return stats, err
}

// AutoCleanup runs Cleanup unless the policy is Forever. It returns nil
// stats when nothing was removed.
func (m *Manager) AutoCleanup(ctx context.Context, project string) (*CleanupStats, error) {
	if m.retention.Kind == RetainForever {
		return nil, nil
	}
	stats, err := m.Cleanup(ctx, project)
	if err != nil || stats.Removed() == 0 {
		return nil, err
	}
	return &stats, nil
}

func (m *Manager) cleanupLocked(ctx context.Context, r *repo) (CleanupStats, error) {
	var stats CleanupStats

	commits, err := m.logLocked(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.CommitsBefore = len(commits)
	stats.CommitsAfter = len(commits)
	if stats.SizeBefore, err = dirSize(r.gitDir); err != nil {
		return stats, editorerr.FromOS("cleanup", r.gitDir, err)
	}
	stats.SizeAfter = stats.SizeBefore

	keep, err := m.retainCount(ctx, r, commits)
	if err != nil || keep >= len(commits) {
		return stats, err
	}

	if stats.Backup, err = m.backupLocked(r); err != nil {
		return stats, editorerr.New(editorerr.KindGit, "cleanup", r.dir, err)
	}

	retained := commits[:keep]
	oldest := make([]Commit, 0, keep)
	for i := len(retained) - 1; i >= 0; i-- {
		oldest = append(oldest, retained[i])
	}

	rewritten, tip, err := replay(ctx, r, oldest, "")
	if err != nil {
		return stats, err
	}
	if _, err := r.run(ctx, "update-ref", "-m", "scribe: cleanup", "HEAD", tip, commits[0].Hash); err != nil {
		return stats, editorerr.New(editorerr.KindGit, "cleanup", r.dir, err)
	}
	if err := remapAnnotations(r, rewritten); err != nil {
		m.log.Warn("could not carry annotations over cleanup", zap.String("repo", r.dir), zap.Error(err))
	}
	m.purgeCaches()

	// The old chain is unreachable from here on; compaction failures leave
	// history correct but large.
	if err := m.pruneLocked(ctx, r); err != nil {
		m.log.Warn("history compaction failed", zap.String("repo", r.dir), zap.Error(err))
	}

	if stats.CommitsAfter, err = m.countLocked(ctx, r); err != nil {
		return stats, err
	}
	if size, err := dirSize(r.gitDir); err == nil {
		stats.SizeAfter = size
	}
	m.log.Info("history cleanup",
		zap.String("project", r.project),
		zap.Stringer("policy", m.retention),
		zap.Int("before", stats.CommitsBefore),
		zap.Int("after", stats.CommitsAfter),
		zap.String("backup", stats.Backup))
	return stats, nil
}

// replay recreates commits (oldest first) on top of parent, keeping their
// trees, authors, dates and messages. It returns the old-to-new hash map and
// the new tip. ctx is checked between commits; nothing references the new
// commits until the caller moves a ref.
func replay(ctx context.Context, r *repo, commits []Commit, parent string) (map[string]string, string, error) {
	rewritten := make(map[string]string, len(commits))
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		args := []string{"commit-tree", c.Hash + "^{tree}"}
		if parent != "" {
			args = append(args, "-p", parent)
		}
		cmd := r.git(args...)
		cmd.stdin = strings.NewReader(c.Message + "\n")
		cmd.env = []string{
			"GIT_AUTHOR_NAME=" + c.AuthorName,
			"GIT_AUTHOR_EMAIL=" + c.AuthorEmail,
			"GIT_AUTHOR_DATE=" + gitDate(c.Timestamp),
			"GIT_COMMITTER_NAME=" + c.Committer,
			"GIT_COMMITTER_EMAIL=" + c.CommitterEmail,
			"GIT_COMMITTER_DATE=" + gitDate(c.CommitTime),
		}
		out, err := cmd.run(ctx)
		if err != nil {
			return nil, "", editorerr.New(editorerr.KindGit, "rewrite history", r.dir, err)
		}
		parent = strings.TrimSpace(out)
		rewritten[c.Hash] = parent
	}
	return rewritten, parent, nil
}

// pruneLocked expires reflogs and removes unreachable objects.
func (m *Manager) pruneLocked(ctx context.Context, r *repo) error {
	if _, err := r.run(ctx, "reflog", "expire", "--expire=now", "--expire-unreachable=now", "--all"); err != nil {
		return err
	}
	args := []string{"gc", "--quiet", "--prune=now"}
	if m.gc.Aggressive {
		args = append(args, "--aggressive")
	}
	if _, err := r.run(ctx, args...); err != nil {
		return err
	}
	m.resetGCCount(r)
	return nil
}

func (m *Manager) resetGCCount(r *repo) {
	m.mu.Lock()
	m.sinceGC[r.hash] = 0
	m.mu.Unlock()
}

func (m *Manager) gcLocked(ctx context.Context, r *repo, aggressive bool) error {
	args := []string{"gc", "--quiet"}
	if aggressive {
		args = append(args, "--aggressive")
	}
	if _, err := r.run(ctx, args...); err != nil {
		return editorerr.New(editorerr.KindGit, "gc", r.dir, err)
	}
	m.resetGCCount(r)
	m.log.Debug("compacted history", zap.String("project", r.project))
	return nil
}

// RunGC compacts project's repository.
func (m *Manager) RunGC(ctx context.Context, project string, aggressive bool) error {
	return m.withRepo(ctx, project, func(r *repo) error {
		return m.gcLocked(ctx, r, aggressive)
	})
}

// ShouldRunGC reports whether the gc thresholds are reached.
func (m *Manager) ShouldRunGC(ctx context.Context, project string) (bool, error) {
	if !m.gc.Enabled {
		return false, nil
	}
	var due bool
	err := m.withRepo(ctx, project, func(r *repo) error {
		n, err := m.countLocked(ctx, r)
		if err != nil {
			return err
		}
		if m.gc.CommitsThreshold > 0 && n >= m.gc.CommitsThreshold {
			due = true
			return nil
		}
		size, err := dirSize(r.gitDir)
		if err != nil {
			return editorerr.FromOS("gc", r.gitDir, err)
		}
		due = m.gc.SizeThresholdMB > 0 && size >= m.gc.SizeThresholdMB*1024*1024
		return nil
	})
	return due, err
}
