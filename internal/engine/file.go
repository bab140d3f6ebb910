package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/safety"
	"github.com/dshills/scribe/internal/timemachine"
)

// guardUnsaved refuses to drop unsaved changes unless forced.
func (e *EditorState) guardUnsaved(op string, force bool) error {
	if e.meta.Dirty && !force {
		return errUnsaved(op, e.meta.Path)
	}
	return nil
}

// load reads path into a new buffer. A path that does not exist yet gives
// an empty buffer bound to it.
func (e *EditorState) load(path string) (*buffer.Buffer, FileMetadata, error) {
	meta := FileMetadata{Path: path, Name: filepath.Base(path)}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		buf := buffer.New(append(e.bufferOptions(), buffer.WithLineEnding(e.lineEnding))...)
		return buf, meta, nil
	}
	if err != nil {
		return nil, meta, editorerr.FromOS("open", path, err)
	}

	buf, err := buffer.Load(path, e.bufferOptions()...)
	if err != nil {
		return nil, meta, err
	}
	meta.Mode = info.Mode().Perm()
	meta.ReadOnly = info.Mode().Perm()&0o200 == 0
	meta.DiskModTime = info.ModTime()
	return buf, meta, nil
}

// leave stops tracking the current file. With discard set the recovery
// data of unsaved changes is dropped as well.
func (e *EditorState) leave(discard bool) {
	if e.safety == nil {
		return
	}
	if discard && e.meta.Dirty {
		var err error
		if e.meta.Path != "" {
			err = e.safety.DiscardRecovery(e.meta.Path)
		} else {
			err = e.safety.DiscardUnsaved(e.meta.Name)
		}
		if err != nil {
			e.log.Warn("discard recovery", zap.String("file", e.meta.Name), zap.Error(err))
		}
	}
	if e.meta.Path != "" {
		e.safety.Untrack(e.meta.Path)
	}
}

// track registers the current file with the safety manager.
func (e *EditorState) track() {
	if e.safety == nil || e.meta.Path == "" {
		return
	}
	if err := e.safety.Track(e.meta.Path); err != nil {
		e.log.Warn("track file", zap.String("path", e.meta.Path), zap.Error(err))
	}
	if err := e.safety.Watch(e.meta.Path); err != nil {
		e.log.Warn("watch file", zap.String("path", e.meta.Path), zap.Error(err))
	}
}

func (e *EditorState) open(path string, force bool) (Effect, error) {
	if path == "" {
		return Effect{}, errNoPath("open")
	}
	if err := e.guardUnsaved("open", force); err != nil {
		return Effect{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Effect{}, editorerr.New(editorerr.KindInvalidOperation, "open", path, err)
	}

	buf, meta, err := e.load(abs)
	if err != nil {
		return Effect{}, err
	}
	e.leave(force)
	e.install(buf, meta)
	e.track()
	e.closeBrowser()

	var eff Effect
	if e.safety != nil {
		rec, ok, err := e.safety.RecoveryFor(abs)
		switch {
		case err != nil:
			e.log.Warn("look up recovery record", zap.String("path", abs), zap.Error(err))
		case ok && rec.Timestamp.After(meta.DiskModTime):
			eff.Recovery = &rec
		}
	}

	msg := fmt.Sprintf("%q %d lines", meta.Name, buf.LineCount())
	if meta.DiskModTime.IsZero() {
		msg = fmt.Sprintf("%q [New File]", meta.Name)
	}
	if meta.ReadOnly {
		msg += " [readonly]"
	}
	e.setStatus(StatusInfo, msg)
	e.log.Info("opened file", zap.String("path", abs), zap.Int("lines", buf.LineCount()), zap.Bool("large", buf.IsLarge()))
	return eff, nil
}

func (e *EditorState) save() (Effect, error) {
	if e.meta.Path == "" {
		return Effect{}, errNoPath("save")
	}
	if e.meta.Binary {
		return Effect{}, errBinary("save", e.meta.Path)
	}
	if e.meta.ReadOnly {
		return Effect{}, errReadOnly("save", e.meta.Path)
	}
	return Effect{}, e.write(e.meta.Path)
}

// write saves the buffer to path and records the save in history.
func (e *EditorState) write(path string) error {
	content := e.buf.Bytes()
	var (
		modTime time.Time
		err     error
	)
	if e.safety != nil && path == e.meta.Path {
		modTime, err = e.safety.OnSave(path, content)
	} else {
		var info fs.FileInfo
		info, err = safety.WriteAtomic(path, content)
		if err == nil {
			modTime = info.ModTime()
		}
	}
	if err != nil {
		return err
	}

	e.meta.Dirty = false
	e.meta.DiskModTime = modTime
	e.unsavedEdits = 0
	e.setStatus(StatusInfo, fmt.Sprintf("%q %d lines written", filepath.Base(path), e.buf.LineCount()))
	e.log.Info("saved file", zap.String("path", path), zap.Int("bytes", len(content)))
	e.commitSave(path)
	return nil
}

// commitSave records path in the time machine in the background. Failures
// are reported on the status channel and never fail the save.
func (e *EditorState) commitSave(path string) {
	if e.tm == nil {
		return
	}
	e.background(func(ctx context.Context) {
		mode, err := timemachine.DetectTrackingMode(path)
		if err != nil {
			e.publish(StatusMessage{Level: StatusError, Message: "History: " + err.Error(), Err: err})
			return
		}
		res, err := e.tm.AutoCommitOnSave(ctx, mode.Root, []string{path})
		if err != nil {
			if ctx.Err() == nil {
				e.log.Warn("history commit failed", zap.String("path", path), zap.Error(err))
				e.publish(StatusMessage{Level: StatusError, Message: "History: " + err.Error(), Err: err})
			}
			return
		}
		switch {
		case len(res.Skipped) > 0:
			e.publish(StatusMessage{Level: StatusWarn, Message: fmt.Sprintf("History: skipped large file %s", filepath.Base(path))})
		case res.Commit != nil:
			e.publish(StatusMessage{Level: StatusInfo, Message: fmt.Sprintf("History: %s %s", res.Commit.ShortHash, res.Commit.Subject)})
		default:
			e.publish(StatusMessage{Level: StatusInfo, Message: "History: no changes"})
		}
	})
}

func (e *EditorState) saveAs(path string) (Effect, error) {
	if path == "" {
		return Effect{}, errNoPath("save as")
	}
	if e.meta.Binary {
		return Effect{}, errBinary("save as", e.meta.Path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Effect{}, editorerr.New(editorerr.KindInvalidOperation, "save as", path, err)
	}
	if abs == e.meta.Path {
		return e.save()
	}

	if err := e.write(abs); err != nil {
		return Effect{}, err
	}
	if e.safety != nil {
		if e.meta.Path != "" {
			e.safety.Untrack(e.meta.Path)
		} else if err := e.safety.DiscardUnsaved(e.meta.Name); err != nil {
			e.log.Warn("discard recovery", zap.String("name", e.meta.Name), zap.Error(err))
		}
	}
	e.meta.Path = abs
	e.meta.Name = filepath.Base(abs)
	e.meta.ReadOnly = false
	if info, err := os.Stat(abs); err == nil {
		e.meta.Mode = info.Mode().Perm()
	}
	e.track()
	e.closeBrowser()
	return Effect{}, nil
}

func (e *EditorState) newBuffer(force bool) (Effect, error) {
	if err := e.guardUnsaved("new", force); err != nil {
		return Effect{}, err
	}
	e.leave(force)
	e.install(buffer.New(append(e.bufferOptions(), buffer.WithLineEnding(e.lineEnding))...), FileMetadata{Name: untitledName()})
	e.closeBrowser()
	return Effect{Changed: true}, nil
}

func (e *EditorState) closeFile(force bool) (Effect, error) {
	if err := e.guardUnsaved("close", force); err != nil {
		return Effect{}, err
	}
	e.log.Debug("closed file", zap.String("file", e.meta.Name))
	return e.newBuffer(true)
}

// reload replaces the buffer with the file on disk. Cursors stay where they
// were as far as the new content allows.
func (e *EditorState) reload(force bool) (Effect, error) {
	if e.meta.Path == "" {
		return Effect{}, errNoPath("reload")
	}
	if err := e.guardUnsaved("reload", force); err != nil {
		return Effect{}, err
	}
	if _, err := os.Stat(e.meta.Path); err != nil {
		return Effect{}, editorerr.FromOS("reload", e.meta.Path, err)
	}
	buf, meta, err := e.load(e.meta.Path)
	if err != nil {
		return Effect{}, err
	}
	e.replaceContent(buf, meta)
	if e.safety != nil {
		if err := e.safety.MarkClean(meta.Path); err != nil {
			e.log.Warn("mark clean", zap.String("path", meta.Path), zap.Error(err))
		}
	}
	e.setStatus(StatusInfo, fmt.Sprintf("%q reloaded", meta.Name))
	return Effect{Changed: true}, nil
}

// replaceContent installs buf keeping the cursors, clamped to the new
// content.
func (e *EditorState) replaceContent(buf *buffer.Buffer, meta FileMetadata) {
	saved, marks := e.cursors.Clone(), e.bookmarks
	e.install(buf, meta)
	saved.Clamp(buf)
	e.cursors.SetAll(saved.All(), saved.PrimaryIndex())
	for i := range marks {
		marks[i].Pos = buf.Clamp(marks[i].Pos)
	}
	e.bookmarks = mergeBookmarks(marks)
}

// recoverFrom loads a recovery record into a dirty buffer. The record stays
// in the store until the buffer is saved or discarded.
func (e *EditorState) recoverFrom(rec *safety.RecoveryRecord, force bool) (Effect, error) {
	if rec == nil {
		return Effect{}, editorerr.Newf(editorerr.KindInvalidOperation, "recover", "", "no recovery record")
	}
	if err := e.guardUnsaved("recover", force); err != nil {
		return Effect{}, err
	}
	buf, err := buffer.Read(bytes.NewReader(rec.Content), int64(len(rec.Content)), e.bufferOptions()...)
	if err != nil {
		return Effect{}, err
	}

	meta := FileMetadata{Path: rec.Path, Name: rec.Name}
	if rec.Path != "" {
		meta.Name = filepath.Base(rec.Path)
		if info, err := os.Stat(rec.Path); err == nil {
			meta.Mode = info.Mode().Perm()
			meta.DiskModTime = info.ModTime()
		}
	}
	if meta.Name == "" {
		meta.Name = untitledName()
	}

	e.leave(false)
	e.install(buf, meta)
	e.track()
	e.markDirty()
	e.closeBrowser()
	e.setStatus(StatusInfo, fmt.Sprintf("Recovered %q from %s", meta.Name, rec.Timestamp.Format(time.DateTime)))
	e.log.Info("recovered buffer", zap.String("file", meta.Name), zap.Time("saved", rec.Timestamp))
	return Effect{Changed: true}, nil
}

// autoSaveTick writes recovery data for the buffer when it is due. Files
// follow the safety manager's schedule; unsaved buffers use the editor's.
func (e *EditorState) autoSaveTick() (Effect, error) {
	if e.safety == nil || !e.meta.Dirty {
		return Effect{}, nil
	}
	if e.meta.Path != "" {
		if !e.safety.AutoSaveDue(e.meta.Path) {
			return Effect{}, nil
		}
	} else {
		now := e.now()
		if e.unsavedEdits == 0 ||
			(e.unsavedEdits < e.autoSaveEdits && now.Sub(e.lastAutoSave) < e.autoSaveInterval) {
			return Effect{}, nil
		}
	}

	if err := e.safety.AutoSave(e.meta.Path, e.meta.Name, e.buf.Bytes()); err != nil {
		return Effect{}, err
	}
	e.unsavedEdits = 0
	e.lastAutoSave = e.now()
	e.log.Debug("auto-saved", zap.String("file", e.meta.Name))
	return Effect{}, nil
}

// externalChange handles a change to the open file made by another
// program. A clean buffer reloads; a dirty one reports a conflict.
func (e *EditorState) externalChange(path string, removed bool) (Effect, error) {
	if e.meta.Path == "" || !samePath(path, e.meta.Path) {
		return Effect{}, nil
	}

	if removed {
		conflict := e.meta.Dirty
		e.meta.DiskModTime = time.Time{}
		e.markDirty()
		e.setStatus(StatusWarn, fmt.Sprintf("%q was deleted on disk", e.meta.Name))
		return Effect{Conflict: conflict}, nil
	}

	if e.meta.Dirty {
		err := editorerr.Newf(editorerr.KindExternalModification, "watch", e.meta.Path,
			"file changed on disk and the buffer has unsaved changes")
		return Effect{Conflict: true}, err
	}

	eff, err := e.reload(true)
	if editorerr.KindOf(err) == editorerr.KindBinaryFile {
		e.meta.Binary = true
	}
	return eff, err
}

func samePath(a, b string) bool {
	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}
