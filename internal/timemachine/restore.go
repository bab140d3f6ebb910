package timemachine

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/safety"
)

func (m *Manager) fileAtLocked(ctx context.Context, r *repo, commit, rel string) ([]byte, string, error) {
	hash, err := r.resolveCommit(ctx, commit)
	if err != nil {
		return nil, "", err
	}
	out, err := r.git("cat-file", "blob", hash+":"+rel).output(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", editorerr.Newf(editorerr.KindNotFound, "file at commit", rel,
			"not present in %s", shortHash(hash))
	}
	return out, hash, nil
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// FileAtCommit returns the content of file as recorded in commit. file is
// an absolute path inside the project or a project-relative path.
func (m *Manager) FileAtCommit(ctx context.Context, project, commit, file string) ([]byte, error) {
	var content []byte
	err := m.withRepo(ctx, project, func(r *repo) error {
		rel, err := projectPath(r, file)
		if err != nil {
			return err
		}
		content, _, err = m.fileAtLocked(ctx, r, commit, rel)
		return err
	})
	return content, err
}

// PreviewRestore diffs the current on-disk content of file against its
// version in commit. Nothing is written.
func (m *Manager) PreviewRestore(ctx context.Context, project, commit, file string) (*RestorePreview, error) {
	var preview *RestorePreview
	err := m.withRepo(ctx, project, func(r *repo) error {
		rel, err := projectPath(r, file)
		if err != nil {
			return err
		}
		historical, hash, err := m.fileAtLocked(ctx, r, commit, rel)
		if err != nil {
			return err
		}
		preview = &RestorePreview{Commit: hash, File: rel, Historical: historical}

		current, err := os.ReadFile(filepath.Join(r.project, filepath.FromSlash(rel)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			preview.Missing = true
		case err != nil:
			return editorerr.FromOS("preview restore", rel, err)
		}
		if !preview.Missing && bytes.Equal(current, historical) {
			preview.Unchanged = true
			preview.Diff = &FileDiff{OldPath: rel, NewPath: rel}
			return nil
		}

		// Store the on-disk content as a loose blob so git can diff it.
		hashCmd := r.git("hash-object", "-w", "--stdin")
		hashCmd.stdin = bytes.NewReader(current)
		blob, err := hashCmd.run(ctx)
		if err != nil {
			return editorerr.New(editorerr.KindGit, "preview restore", r.dir, err)
		}
		out, err := r.run(ctx, "diff", strings.TrimSpace(blob), hash+":"+rel)
		if err != nil {
			return editorerr.New(editorerr.KindGit, "preview restore", r.dir, err)
		}
		d := parseDiff(out)
		fd := &FileDiff{}
		if len(d.Files) > 0 {
			fd = &d.Files[0]
		}
		fd.OldPath, fd.NewPath = rel, rel
		if preview.Missing {
			fd.Status = StatusAdded
		}
		preview.Diff = fd
		return nil
	})
	return preview, err
}

func checkRestore(opts RestoreOptions, target string) error {
	if opts.Unsaved && !opts.Confirmed {
		return editorerr.Newf(editorerr.KindRestoreOverUnsaved, "restore", target,
			"unsaved changes would be discarded")
	}
	return nil
}

// RestoreFile writes the version of file recorded in commit over the file
// on disk and returns that content. When opts reports unsaved changes the
// restore is refused with a RestoreOverUnsaved error unless confirmed.
// History itself is not changed; the next save records the restored state.
func (m *Manager) RestoreFile(ctx context.Context, project, commit, file string, opts RestoreOptions) ([]byte, error) {
	if err := checkRestore(opts, file); err != nil {
		return nil, err
	}
	var content []byte
	err := m.withRepo(ctx, project, func(r *repo) error {
		rel, err := projectPath(r, file)
		if err != nil {
			return err
		}
		var hash string
		content, hash, err = m.fileAtLocked(ctx, r, commit, rel)
		if err != nil {
			return err
		}
		target := filepath.Join(r.project, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return editorerr.FromOS("restore", target, err)
		}
		if _, err := safety.WriteAtomic(target, content); err != nil {
			return err
		}
		m.log.Info("restored file from history",
			zap.String("file", target), zap.String("commit", shortHash(hash)))
		return nil
	})
	return content, err
}

// RestoreProject writes every file recorded in commit into the project and
// returns their project-relative paths. Files created after commit are left
// in place.
func (m *Manager) RestoreProject(ctx context.Context, project, commit string, opts RestoreOptions) ([]string, error) {
	if err := checkRestore(opts, project); err != nil {
		return nil, err
	}
	var restored []string
	err := m.withRepo(ctx, project, func(r *repo) error {
		hash, err := r.resolveCommit(ctx, commit)
		if err != nil {
			return err
		}
		out, err := r.run(ctx, "ls-tree", "-r", "--name-only", "-z", hash)
		if err != nil {
			return editorerr.New(editorerr.KindGit, "restore project", r.dir, err)
		}
		for _, rel := range strings.Split(strings.TrimRight(out, "\x00"), "\x00") {
			if rel == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			content, _, err := m.fileAtLocked(ctx, r, hash, rel)
			if err != nil {
				return err
			}
			target := filepath.Join(r.project, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return editorerr.FromOS("restore project", target, err)
			}
			if _, err := safety.WriteAtomic(target, content); err != nil {
				return err
			}
			restored = append(restored, rel)
		}
		m.log.Info("restored project from history",
			zap.String("project", r.project), zap.String("commit", shortHash(hash)), zap.Int("files", len(restored)))
		return nil
	})
	return restored, err
}
