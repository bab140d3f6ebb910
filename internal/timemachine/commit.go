package timemachine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
)

// commitLogFormat is one commit per NUL-terminated record.
// Fields: Hash, ShortHash, AuthorName, AuthorEmail, AuthorTime, CommitterName,
// CommitterEmail, CommitTime, Parents, then the raw message.
const commitLogFormat = "%H%n%h%n%an%n%ae%n%at%n%cn%n%ce%n%ct%n%P%n%B%x00"

const commitHeaderLines = 9

// parseCommitRecord parses one record of commitLogFormat output.
func parseCommitRecord(record string) (Commit, error) {
	record = strings.TrimLeft(record, "\n")
	lines := strings.SplitN(record, "\n", commitHeaderLines+1)
	if len(lines) < commitHeaderLines {
		return Commit{}, fmt.Errorf("invalid commit record: expected at least %d lines, got %d", commitHeaderLines, len(lines))
	}

	authorTime, err := strconv.ParseInt(lines[4], 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("parse author time: %w", err)
	}
	commitTime, err := strconv.ParseInt(lines[7], 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("parse commit time: %w", err)
	}

	c := Commit{
		Hash:           lines[0],
		ShortHash:      lines[1],
		AuthorName:     lines[2],
		AuthorEmail:    lines[3],
		Timestamp:      time.Unix(authorTime, 0),
		Committer:      lines[5],
		CommitterEmail: lines[6],
		CommitTime:     time.Unix(commitTime, 0),
		Parents:        strings.Fields(lines[8]),
	}
	if len(lines) > commitHeaderLines {
		c.Message = strings.TrimRight(lines[commitHeaderLines], "\n")
	}
	c.Subject, _, _ = strings.Cut(c.Message, "\n")
	return c, nil
}

// parseCommitLog parses the output of git log --format=commitLogFormat.
func parseCommitLog(output string) ([]Commit, error) {
	var commits []Commit
	for _, record := range strings.Split(output, "\x00") {
		if strings.TrimSpace(record) == "" {
			continue
		}
		c, err := parseCommitRecord(record)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// gitDate formats t for GIT_AUTHOR_DATE and GIT_COMMITTER_DATE.
func gitDate(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Unix(), t.Format("-0700"))
}

// commitMessage builds the auto-save message for committed and skipped
// project-relative paths.
func commitMessage(committed, skipped []string, at time.Time) string {
	ts := at.Format("2006-01-02 15:04:05")

	var b strings.Builder
	if len(committed) == 1 {
		fmt.Fprintf(&b, "Auto-save: %s at %s", committed[0], ts)
	} else {
		fmt.Fprintf(&b, "Auto-save: %d files at %s\n", len(committed), ts)
		for _, p := range committed {
			fmt.Fprintf(&b, "\n  - %s", p)
		}
	}

	if n := len(skipped); n > 0 {
		plural := "s"
		if n == 1 {
			plural = ""
		}
		fmt.Fprintf(&b, "\n\n(%d large file%s excluded)", n, plural)
		for _, p := range skipped {
			fmt.Fprintf(&b, "\n  - %s", p)
		}
	}
	return b.String()
}

// relativeTo returns file relative to project in slash form.
func relativeTo(project, file string) (string, error) {
	canonical, err := CanonicalPath(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(project, canonical)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideProject
	}
	return filepath.ToSlash(rel), nil
}

// AutoCommitOnSave records the saved files of project in one commit. The
// large-file policy is applied first: StrategySkip leaves oversized files
// out and notes them in the message, StrategyError refuses them and returns
// a LargeFileBlocked error alongside the result for the remaining files.
//
// Files whose content matches the last commit produce no commit.
func (m *Manager) AutoCommitOnSave(ctx context.Context, project string, files []string) (*CommitResult, error) {
	res := &CommitResult{}
	if len(files) == 0 {
		return res, nil
	}

	var blocked error
	err := m.withRepo(ctx, project, func(r *repo) error {
		var staged []string
		for _, file := range files {
			rel, err := relativeTo(r.project, file)
			if err != nil {
				m.log.Warn("not committing file outside project",
					zap.String("file", file), zap.String("project", r.project))
				res.Ignored = append(res.Ignored, file)
				continue
			}

			info, err := os.Stat(file)
			if err != nil {
				m.log.Warn("cannot stat saved file", zap.String("file", file), zap.Error(err))
				res.Ignored = append(res.Ignored, rel)
				continue
			}

			if limit := m.largeFiles.ThresholdBytes(); limit > 0 && info.Size() > limit {
				switch m.largeFiles.Strategy {
				case StrategySkip:
					m.log.Info("skipping large file",
						zap.String("file", rel), zap.Int64("size", info.Size()), zap.Int64("threshold_mb", m.largeFiles.ThresholdMB))
					res.Skipped = append(res.Skipped, rel)
					continue
				case StrategyError:
					res.Blocked = append(res.Blocked, rel)
					continue
				case StrategyLFS:
					m.log.Warn("lfs storage is not implemented, committing large file directly",
						zap.String("file", rel), zap.Int64("size", info.Size()))
				default:
					m.log.Warn("large file exceeds history threshold",
						zap.String("file", rel), zap.Int64("size", info.Size()), zap.Int64("threshold_mb", m.largeFiles.ThresholdMB))
					if m.largeFiles.ExcludeFromHistory {
						res.Skipped = append(res.Skipped, rel)
						continue
					}
				}
			}

			if err := copyIntoWorkTree(file, filepath.Join(r.work, filepath.FromSlash(rel)), info.Mode().Perm()); err != nil {
				return editorerr.New(editorerr.KindGitCommit, "auto-commit", file, err)
			}
			staged = append(staged, rel)
		}

		if len(res.Blocked) > 0 {
			blocked = editorerr.Newf(editorerr.KindLargeFileBlocked, "auto-commit", strings.Join(res.Blocked, ", "),
				"larger than %d MB", m.largeFiles.ThresholdMB)
		}
		if len(staged) == 0 {
			return nil
		}

		args := append([]string{"add", "-f", "--"}, staged...)
		if _, err := r.run(ctx, args...); err != nil {
			return editorerr.New(editorerr.KindGitCommit, "auto-commit", r.project, err)
		}

		// Exit status 1 means the index differs from HEAD.
		_, err := r.run(ctx, "diff", "--cached", "--quiet")
		if err == nil && r.hasHead(ctx) {
			m.log.Debug("saved files match last commit", zap.Strings("files", staged))
			return nil
		}
		if err != nil && exitCode(err) != 1 {
			return editorerr.New(editorerr.KindGitCommit, "auto-commit", r.project, err)
		}

		now := m.now()
		msg := commitMessage(staged, res.Skipped, now)
		cmd := r.git("commit", "-q", "--no-verify", "-F", "-")
		cmd.stdin = strings.NewReader(msg)
		cmd.env = []string{"GIT_AUTHOR_DATE=" + gitDate(now), "GIT_COMMITTER_DATE=" + gitDate(now)}
		if _, err := cmd.run(ctx); err != nil {
			return editorerr.New(editorerr.KindGitCommit, "auto-commit", r.project, err)
		}

		head, err := m.commitLocked(ctx, r, "HEAD")
		if err != nil {
			return editorerr.New(editorerr.KindGitCommit, "auto-commit", r.project, err)
		}
		res.Commit = &head
		res.Committed = staged

		m.log.Debug("auto-committed",
			zap.String("project", r.project), zap.String("commit", head.ShortHash), zap.Strings("files", staged))

		m.afterCommit(ctx, r)
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, blocked
}

// afterCommit runs automatic cleanup and gc. Failures are logged only.
func (m *Manager) afterCommit(ctx context.Context, r *repo) {
	if m.autoCleanup && m.retention.Kind != RetainForever {
		stats, err := m.cleanupLocked(ctx, r)
		switch {
		case err != nil:
			m.log.Warn("automatic history cleanup failed", zap.String("project", r.project), zap.Error(err))
		case stats.Removed() > 0:
			m.log.Info("automatic history cleanup",
				zap.String("project", r.project), zap.Int("removed", stats.Removed()))
		}
	}

	if !m.gc.Enabled {
		return
	}
	m.mu.Lock()
	m.sinceGC[r.hash]++
	count := m.sinceGC[r.hash]
	m.mu.Unlock()

	due := m.gc.CommitsThreshold > 0 && count >= m.gc.CommitsThreshold
	if !due && m.gc.SizeThresholdMB > 0 {
		if size, err := dirSize(r.gitDir); err == nil && size >= m.gc.SizeThresholdMB*1024*1024 {
			due = true
		}
	}
	if !due {
		return
	}
	if err := m.gcLocked(ctx, r, m.gc.Aggressive); err != nil {
		m.log.Warn("automatic git gc failed", zap.String("project", r.project), zap.Error(err))
	}
}

// copyIntoWorkTree copies src to dst, creating parent directories.
func copyIntoWorkTree(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// resolveCommit expands rev to a full commit hash.
func (r *repo) resolveCommit(ctx context.Context, rev string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", "-q", rev+"^{commit}")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", editorerr.Newf(editorerr.KindNotFound, "resolve commit", rev, "unknown commit")
	}
	return strings.TrimSpace(out), nil
}

// commitLocked returns the details of rev, using the cache for full hashes.
func (m *Manager) commitLocked(ctx context.Context, r *repo, rev string) (Commit, error) {
	hash, err := r.resolveCommit(ctx, rev)
	if err != nil {
		return Commit{}, err
	}
	if c, ok := m.details.Get(cacheKey(r, hash)); ok {
		return c, nil
	}

	out, err := r.run(ctx, "log", "-1", "--format="+commitLogFormat, hash)
	if err != nil {
		return Commit{}, err
	}
	commits, err := parseCommitLog(out)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) == 0 {
		return Commit{}, errors.New("empty commit record")
	}
	m.details.Add(cacheKey(r, hash), commits[0])
	return commits[0], nil
}
