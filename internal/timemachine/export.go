package timemachine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
)

// Export writes project's history to dest as an ordinary git repository
// with the full commit history and a checked-out work tree. dest must not
// exist.
func (m *Manager) Export(ctx context.Context, project, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return editorerr.Newf(editorerr.KindInvalidOperation, "export history", dest, "destination already exists")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return editorerr.FromOS("export history", dest, err)
	}

	return m.withRepo(ctx, project, func(r *repo) error {
		if !r.hasHead(ctx) {
			return editorerr.New(editorerr.KindInvalidOperation, "export history", r.project, ErrNoHistory)
		}
		clone := &gitCommand{args: []string{"clone", "-q", "--no-hardlinks", r.gitDir, dest}}
		if _, err := clone.run(ctx); err != nil {
			_ = os.RemoveAll(dest)
			return editorerr.New(editorerr.KindGit, "export history", dest, err)
		}
		// The export must not point back at the hidden store.
		unlink := &gitCommand{dir: dest, args: []string{"remote", "remove", "origin"}}
		if _, err := unlink.run(ctx); err != nil {
			m.log.Warn("could not remove origin from export", zap.String("dest", dest), zap.Error(err))
		}
		m.log.Info("exported history", zap.String("project", r.project), zap.String("dest", dest))
		return nil
	})
}

// Import appends the history of the git repository at src to project's
// history. Commits are replayed in order on top of the current history,
// keeping their trees, authors, dates and messages. src is only read.
func (m *Manager) Import(ctx context.Context, project, src string) (int, error) {
	src, err := filepath.Abs(src)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(src); err != nil {
		return 0, editorerr.FromOS("import history", src, err)
	}
	if !isGitRepo(ctx, src) {
		return 0, editorerr.Newf(editorerr.KindInvalidOperation, "import history", src, "not a git repository")
	}

	var imported int
	err = m.withRepo(ctx, project, func(r *repo) error {
		if _, err := r.run(ctx, "fetch", "-q", "--no-tags", src, "HEAD"); err != nil {
			return editorerr.New(editorerr.KindGit, "import history", src, err)
		}
		out, err := r.run(ctx, "log", "--reverse", "--topo-order", "--format="+commitLogFormat, "FETCH_HEAD", "--")
		if err != nil {
			return editorerr.New(editorerr.KindGit, "import history", src, err)
		}
		commits, err := parseCommitLog(out)
		if err != nil {
			return editorerr.New(editorerr.KindCorruptRepository, "import history", src, err)
		}
		if len(commits) == 0 {
			return nil
		}

		var parent string
		if r.hasHead(ctx) {
			if parent, err = r.resolveCommit(ctx, "HEAD"); err != nil {
				return err
			}
		}
		_, tip, err := replay(ctx, r, commits, parent)
		if err != nil {
			return err
		}

		args := []string{"update-ref", "-m", "scribe: import", "HEAD", tip}
		if parent != "" {
			args = append(args, parent)
		}
		if _, err := r.run(ctx, args...); err != nil {
			return editorerr.New(editorerr.KindGit, "import history", r.dir, err)
		}
		if _, err := r.run(ctx, "reset", "-q", "--mixed", "HEAD"); err != nil {
			return editorerr.New(editorerr.KindGit, "import history", r.dir, err)
		}
		imported = len(commits)
		m.log.Info("imported history",
			zap.String("project", r.project), zap.String("source", src), zap.Int("commits", imported))
		return nil
	})
	return imported, err
}

// isGitRepo reports whether dir looks like a git repository.
func isGitRepo(ctx context.Context, dir string) bool {
	cmd := &gitCommand{dir: dir, args: []string{"rev-parse", "--git-dir"}}
	out, err := cmd.run(ctx)
	return err == nil && strings.TrimSpace(out) != ""
}
