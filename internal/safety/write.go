package safety

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/scribe/internal/editorerr"
)

// BackupSuffix is appended to a file's name to form its auto-save sibling.
const BackupSuffix = ".backup"

// DefaultFileMode is used for files that do not exist yet.
const DefaultFileMode fs.FileMode = 0o644

// BackupPath returns the auto-save sibling of path.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// WriteAtomic replaces path with content. The data is written to a temporary
// file in the same directory, synced, given the original file's permissions
// and renamed over path, so a crash leaves either the old or the new content
// on disk. It returns the stat of the written file.
//
// Errors are classified with editorerr.FromOS; the original file is left
// untouched on any failure.
func WriteAtomic(path string, content []byte) (fs.FileInfo, error) {
	mode := DefaultFileMode
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return nil, editorerr.Newf(editorerr.KindInvalidOperation, "save", path, "is a directory")
		}
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, editorerr.FromOS("save", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".scribe-*")
	if err != nil {
		return nil, editorerr.FromOS("save", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return nil, editorerr.FromOS("save", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, editorerr.FromOS("save", path, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, editorerr.FromOS("save", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return nil, editorerr.FromOS("save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, editorerr.FromOS("save", path, err)
	}
	committed = true
	syncDir(dir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, editorerr.FromOS("save", path, err)
	}
	return info, nil
}

// syncDir flushes a directory entry update. Not every platform supports
// syncing directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// WriteBackup writes content to the .backup sibling of path.
func WriteBackup(path string, content []byte) (string, error) {
	if path == "" {
		return "", editorerr.Newf(editorerr.KindInvalidOperation, "backup", "", "buffer has no file path")
	}
	backup := BackupPath(path)
	if _, err := WriteAtomic(backup, content); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backup, nil
}

// RemoveBackup deletes the .backup sibling of path if it exists.
func RemoveBackup(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(BackupPath(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return editorerr.FromOS("remove backup", BackupPath(path), err)
	}
	return nil
}
