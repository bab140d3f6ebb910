package timemachine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
)

const backupStamp = "20060102_150405.000"

// copyDir copies the tree at src to dst, keeping permissions.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// backupLocked copies the project's store to a new backup directory and
// returns its name.
func (m *Manager) backupLocked(r *repo) (string, error) {
	base := filepath.Base(r.dir) + backupInfix + m.now().Format(backupStamp)
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(m.root, name)); errors.Is(err, fs.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}

	dst := filepath.Join(m.root, name)
	if err := copyDir(r.dir, dst); err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("backup history: %w", err)
	}
	m.log.Debug("backed up history", zap.String("repo", r.dir), zap.String("backup", name))
	return name, nil
}

// CreateBackup copies project's history store and returns the backup name.
func (m *Manager) CreateBackup(ctx context.Context, project string) (string, error) {
	var name string
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		name, err = m.backupLocked(r)
		return err
	})
	return name, err
}

// ListBackups returns project's backups, newest first.
func (m *Manager) ListBackups(project string) ([]Backup, error) {
	r, err := m.locate(project)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, editorerr.FromOS("list backups", m.root, err)
	}

	prefix := r.hash + backupInfix
	var out []Backup
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		b := Backup{Name: e.Name(), Path: filepath.Join(m.root, e.Name())}
		stamp := strings.TrimPrefix(e.Name(), prefix)
		if len(stamp) >= len(backupStamp) {
			if t, err := time.ParseInLocation(backupStamp, stamp[:len(backupStamp)], time.Local); err == nil {
				b.Created = t
			}
		}
		if b.Created.IsZero() {
			if info, err := e.Info(); err == nil {
				b.Created = info.ModTime()
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

func (m *Manager) backupDir(r *repo, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || !strings.HasPrefix(name, r.hash+backupInfix) {
		return "", editorerr.New(editorerr.KindInvalidOperation, "backup", name, ErrBackupNotFound)
	}
	dir := filepath.Join(m.root, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", editorerr.New(editorerr.KindNotFound, "backup", name, ErrBackupNotFound)
	}
	return dir, nil
}

// DeleteBackup removes one of project's backups.
func (m *Manager) DeleteBackup(project, name string) error {
	r, err := m.locate(project)
	if err != nil {
		return err
	}
	dir, err := m.backupDir(r, name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return editorerr.FromOS("delete backup", dir, err)
	}
	return nil
}

// RestoreBackup replaces project's history store with a backup.
func (m *Manager) RestoreBackup(ctx context.Context, project, name string) error {
	r, err := m.locate(project)
	if err != nil {
		return err
	}
	mu := m.projectMutex(r.hash)
	mu.Lock()
	defer mu.Unlock()
	unlock, err := acquireLock(ctx, r.dir+lockSuffix, m.lockTimeout)
	if err != nil {
		return editorerr.New(editorerr.KindGit, "restore backup", r.dir, err)
	}
	defer unlock()
	return m.restoreBackupLocked(r, name)
}

func (m *Manager) restoreBackupLocked(r *repo, name string) error {
	src, err := m.backupDir(r, name)
	if err != nil {
		return err
	}
	staging := r.dir + ".restoring"
	_ = os.RemoveAll(staging)
	if err := copyDir(src, staging); err != nil {
		_ = os.RemoveAll(staging)
		return editorerr.FromOS("restore backup", src, err)
	}
	if err := os.RemoveAll(r.dir); err != nil {
		return editorerr.FromOS("restore backup", r.dir, err)
	}
	if err := os.Rename(staging, r.dir); err != nil {
		return editorerr.FromOS("restore backup", r.dir, err)
	}
	m.purgeCaches()
	m.log.Info("restored history from backup", zap.String("repo", r.dir), zap.String("backup", name))
	return nil
}

// Verify checks the structure and object store of project's history.
// Problems are reported in the returned report, not as an error.
func (m *Manager) Verify(ctx context.Context, project string) (*IntegrityReport, error) {
	r, err := m.locate(project)
	if err != nil {
		return nil, err
	}
	mu := m.projectMutex(r.hash)
	mu.Lock()
	defer mu.Unlock()
	unlock, err := acquireLock(ctx, r.dir+lockSuffix, m.lockTimeout)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "verify history", r.dir, err)
	}
	defer unlock()

	return m.verifyLocked(ctx, r)
}

func (m *Manager) verifyLocked(ctx context.Context, r *repo) (*IntegrityReport, error) {
	report := &IntegrityReport{Valid: true}

	if _, err := os.Stat(r.gitDir); err != nil {
		report.addError("repository does not exist at %s", r.dir)
		return report, nil
	}
	for _, name := range []string{"HEAD", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(r.gitDir, name)); err != nil {
			report.addError("%s is missing", name)
		}
	}
	if !report.Valid {
		return report, nil
	}

	if ref, err := r.run(ctx, "symbolic-ref", "-q", "HEAD"); err == nil {
		// An unborn branch has no ref file yet.
		if _, err := r.run(ctx, "show-ref", "--verify", "-q", strings.TrimSpace(ref)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			report.addWarning("repository is empty (no commits)")
			return report, nil
		}
	} else {
		report.addWarning("HEAD is detached")
	}
	if !r.hasHead(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.addError("HEAD does not point to a readable commit")
		return report, nil
	}

	out, err := r.run(ctx, "fsck", "--full", "--no-progress", "--no-dangling")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ge *GitError
		if errors.As(err, &ge) {
			out = ge.Stdout + "\n" + ge.Stderr
		}
		report.addError("fsck failed")
	}
	for _, line := range splitLines(out) {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "dangling "), strings.HasPrefix(line, "notice:"):
			report.addWarning("%s", line)
		case strings.HasPrefix(line, "Checking "):
		default:
			report.addError("%s", line)
		}
	}

	if _, err := m.logLocked(ctx, r); err != nil {
		report.addError("history cannot be listed: %v", err)
	}
	return report, nil
}

// Repair tries to bring a damaged history store back to a usable state. A
// backup is taken first and restored if the repair does not succeed.
func (m *Manager) Repair(ctx context.Context, project string) (*IntegrityReport, error) {
	r, err := m.locate(project)
	if err != nil {
		return nil, err
	}
	mu := m.projectMutex(r.hash)
	mu.Lock()
	defer mu.Unlock()
	unlock, err := acquireLock(ctx, r.dir+lockSuffix, m.lockTimeout)
	if err != nil {
		return nil, editorerr.New(editorerr.KindGit, "repair history", r.dir, err)
	}
	defer unlock()

	if _, err := os.Stat(r.gitDir); err != nil {
		return nil, editorerr.Newf(editorerr.KindInvalidOperation, "repair history", r.project, "no history to repair")
	}

	backup, err := m.backupLocked(r)
	if err != nil {
		return nil, editorerr.New(editorerr.KindCorruptRepository, "repair history", r.dir, err)
	}

	report, repairErr := m.attemptRepair(ctx, r)
	if repairErr == nil && report.Valid {
		m.purgeCaches()
		m.log.Info("repaired history", zap.String("project", r.project), zap.String("backup", backup))
		return report, nil
	}
	if repairErr == nil {
		repairErr = fmt.Errorf("%s", strings.Join(report.Errors, "; "))
	}

	if err := m.restoreBackupLocked(r, backup); err != nil {
		m.log.Error("could not restore history after failed repair",
			zap.String("repo", r.dir), zap.String("backup", backup), zap.Error(err))
	}
	return report, editorerr.New(editorerr.KindCorruptRepository, "repair history", r.project, repairErr)
}

// attemptRepair clears stale lock files, rebuilds a damaged index and
// verifies the result.
func (m *Manager) attemptRepair(ctx context.Context, r *repo) (*IntegrityReport, error) {
	for _, name := range []string{"index.lock", "HEAD.lock", "config.lock", "packed-refs.lock"} {
		_ = os.Remove(filepath.Join(r.gitDir, name))
	}

	if r.hasHead(ctx) {
		if _, err := r.run(ctx, "ls-files", "--stage"); err != nil {
			m.log.Warn("rebuilding damaged history index", zap.String("repo", r.dir), zap.Error(err))
			_ = os.Remove(filepath.Join(r.gitDir, "index"))
			if _, err := r.run(ctx, "reset", "-q", "--mixed", "HEAD"); err != nil {
				return nil, err
			}
		}
	}

	if _, err := r.run(ctx, "reflog", "expire", "--expire-unreachable=now", "--all"); err != nil {
		m.log.Debug("reflog expire during repair failed", zap.Error(err))
	}
	return m.verifyLocked(ctx, r)
}
