package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/engine/cursor"
	"github.com/dshills/scribe/internal/safety"
)

func newSafety(t *testing.T, mutate func(*safety.Options)) *safety.Manager {
	t.Helper()
	opts := safety.DefaultOptions()
	opts.Watch = false
	if mutate != nil {
		mutate(&opts)
	}
	m, err := safety.NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenMissingFileGivesEmptyBuffer(t *testing.T) {
	e := newEditor(t, "")
	path := filepath.Join(t.TempDir(), "new.txt")

	apply(t, e, Open{Path: path})
	assert.Equal(t, "", e.Text())
	meta := e.Metadata()
	assert.Equal(t, path, meta.Path)
	assert.Equal(t, "new.txt", meta.Name)
	assert.True(t, meta.DiskModTime.IsZero())
	assert.Contains(t, e.Snapshot(Viewport{}).Status.Message, "[New File]")

	apply(t, e, InsertText{Text: "hi"}, Save{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestOpenSaveKeepsCRLF(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "win.txt", "one\r\ntwo\r\n")
	e := newEditor(t, "", WithSafety(newSafety(t, nil)))

	apply(t, e, Open{Path: path})
	assert.Equal(t, "one\ntwo", e.Text())
	assert.Equal(t, buffer.LineEndingCRLF, e.Metadata().LineEnding)

	apply(t, e, GotoLine{Line: 1}, InsertText{Text: "2 "}, InsertNewline{}, Save{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\r\n2 \r\ntwo\r\n", string(data))

	meta := e.Metadata()
	assert.False(t, meta.Dirty)
	assert.Equal(t, safety.StateClean, meta.SaveState)
}

func TestOpenInvalidUTF8LeavesStateUnchanged(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "bad.txt", "ok\n\xff\xfe broken")
	e := newEditor(t, "keep me")
	apply(t, e, Move{Kind: cursor.MoveLineEnd})
	before := e.Metadata()

	_, err := e.Apply(Open{Path: path})
	require.Error(t, err)
	assert.Equal(t, editorerr.KindCorruptedFile, editorerr.KindOf(err))

	assert.Equal(t, "keep me", e.Text())
	assert.Equal(t, []buffer.Position{buffer.Pos(0, 7)}, positions(e))
	assert.Equal(t, before.Name, e.Metadata().Name)
}

func TestOpenBinaryFileFails(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "blob.bin", "ELF\x00\x01\x02")
	e := newEditor(t, "")

	_, err := e.Apply(Open{Path: path})
	assert.Equal(t, editorerr.KindBinaryFile, editorerr.KindOf(err))
	assert.Empty(t, e.Metadata().Path)
}

func TestOpenRefusesToDropUnsavedChanges(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "disk")
	e := newEditor(t, "")
	apply(t, e, InsertText{Text: "draft"})

	_, err := e.Apply(Open{Path: path})
	require.Error(t, err)
	assert.Equal(t, editorerr.KindInvalidOperation, editorerr.KindOf(err))
	assert.Equal(t, "draft", e.Text())

	apply(t, e, Open{Path: path, Force: true})
	assert.Equal(t, "disk", e.Text())
	assert.False(t, e.Metadata().Dirty)
	assert.False(t, e.Snapshot(Viewport{}).CanUndo, "opening clears undo history")
}

func TestSaveNeedsPath(t *testing.T) {
	e := newEditor(t, "x")
	_, err := e.Apply(Save{})
	assert.Equal(t, editorerr.KindInvalidOperation, editorerr.KindOf(err))
}

func TestSaveAsBindsPath(t *testing.T) {
	dir := t.TempDir()
	m := newSafety(t, nil)
	e := newEditor(t, "draft", WithSafety(m))
	apply(t, e, InsertText{Text: "!"})

	path := filepath.Join(dir, "out.txt")
	apply(t, e, SaveAs{Path: path})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "!draft", string(data))

	meta := e.Metadata()
	assert.Equal(t, path, meta.Path)
	assert.Equal(t, "out.txt", meta.Name)
	assert.False(t, meta.Dirty)
	assert.True(t, m.IsTracked(path))

	apply(t, e, InsertText{Text: "?"})
	assert.Equal(t, safety.StateDirty, e.Metadata().SaveState)
}

func TestReadOnlyFile(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "ro.txt", "locked")
	require.NoError(t, os.Chmod(path, 0o444))
	e := newEditor(t, "")

	apply(t, e, Open{Path: path})
	meta := e.Metadata()
	assert.True(t, meta.ReadOnly)
	assert.Equal(t, os.FileMode(0o444), meta.Mode)
	assert.Contains(t, e.Snapshot(Viewport{}).Status.Message, "[readonly]")

	_, err := e.Apply(DeleteForward{})
	assert.Equal(t, editorerr.KindReadOnly, editorerr.KindOf(err))
	_, err = e.Apply(Save{})
	assert.Equal(t, editorerr.KindReadOnly, editorerr.KindOf(err))
}

func TestCloseAndNewBuffer(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "a")
	e := newEditor(t, "")
	apply(t, e, Open{Path: path}, InsertText{Text: "b"})

	_, err := e.Apply(Close{})
	require.Error(t, err)

	apply(t, e, Close{Force: true})
	assert.Equal(t, "", e.Text())
	assert.Empty(t, e.Metadata().Path)

	apply(t, e, InsertText{Text: "c"})
	_, err = e.Apply(NewBuffer{})
	require.Error(t, err)
	apply(t, e, NewBuffer{Force: true})
	assert.False(t, e.Metadata().Dirty)
}

func TestReloadKeepsCursorsInRange(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "line one\nline two")
	e := newEditor(t, "")
	apply(t, e, Open{Path: path}, MouseClick{Pos: buffer.Pos(1, 6)})

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))
	apply(t, e, Reload{})

	assert.Equal(t, "short", e.Text())
	assert.Equal(t, []buffer.Position{buffer.Pos(0, 5)}, positions(e))
}

func TestAutoSaveAndRecoverFile(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "saved")
	m := newSafety(t, func(o *safety.Options) { o.EditThreshold = 1 })

	e := newEditor(t, "", WithSafety(m))
	apply(t, e, Open{Path: path}, InsertText{Text: "unsaved "}, AutoSaveTick{})

	// The backup sibling holds the buffer; the file itself is untouched.
	backup, err := os.ReadFile(safety.BackupPath(path))
	require.NoError(t, err)
	assert.Equal(t, "unsaved saved", string(backup))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", string(data))
	assert.True(t, e.Metadata().Dirty, "auto-save is not a save")

	// A second editor opening the file is offered the recovery record.
	other := newEditor(t, "", WithSafety(m))
	eff := apply(t, other, Open{Path: path})
	require.NotNil(t, eff.Recovery)
	assert.Equal(t, "unsaved saved", string(eff.Recovery.Content))

	apply(t, other, RecoverFrom{Record: eff.Recovery})
	assert.Equal(t, "unsaved saved", other.Text())
	assert.True(t, other.Metadata().Dirty)

	// Saving clears the recovery data.
	apply(t, other, Save{})
	_, ok, err := m.RecoveryFor(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoSaveUnsavedBufferAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recovery")
	m, err := safety.NewManager(safety.Options{AutoSave: true, RecoveryDir: dir})
	require.NoError(t, err)

	e := newEditor(t, "", WithSafety(m), WithAutoSave(time.Hour, 2))
	apply(t, e, InsertText{Text: "a"}, AutoSaveTick{})
	apply(t, e, InsertText{Text: "b"}, AutoSaveTick{})
	name := e.Metadata().Name
	require.NoError(t, e.Close())
	require.NoError(t, m.Close())

	m2 := newSafety(t, func(o *safety.Options) { o.RecoveryDir = dir })
	restarted := newEditor(t, "", WithSafety(m2))

	rec, ok := restarted.PendingRecovery()
	require.True(t, ok)
	assert.Equal(t, name, rec.Name)
	assert.Equal(t, "ab", string(rec.Content))

	_, ok = restarted.PendingRecovery()
	assert.False(t, ok, "each record is offered once")

	apply(t, restarted, RecoverFrom{Record: rec})
	assert.Equal(t, "ab", restarted.Text())
	assert.Equal(t, name, restarted.Metadata().Name)
}

func TestRecoverFromWithoutRecord(t *testing.T) {
	e := newEditor(t, "keep")
	_, err := e.Apply(RecoverFrom{})
	require.Error(t, err)
	assert.Equal(t, editorerr.KindInvalidOperation, editorerr.KindOf(err))
	assert.Equal(t, "keep", e.Text())
}

func TestExternalChange(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "v1")
	e := newEditor(t, "", WithSafety(newSafety(t, nil)))
	apply(t, e, Open{Path: path})

	// Clean buffers follow the disk.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	eff := apply(t, e, ExternalChange{Path: path})
	assert.True(t, eff.Changed)
	assert.Equal(t, "v2", e.Text())

	// Dirty buffers report a conflict and keep their content.
	apply(t, e, InsertText{Text: "mine "})
	require.NoError(t, os.WriteFile(path, []byte("v3"), 0o644))
	eff, err := e.Apply(ExternalChange{Path: path})
	assert.True(t, eff.Conflict)
	assert.Equal(t, editorerr.KindExternalModification, editorerr.KindOf(err))
	assert.True(t, editorerr.IsConflict(err))
	assert.Equal(t, "mine v2", e.Text())

	// Changes to other files are ignored.
	eff = apply(t, e, ExternalChange{Path: filepath.Join(filepath.Dir(path), "other.txt")})
	assert.False(t, eff.Conflict)
}

func TestExternalRemoveMarksDirty(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.txt", "keep")
	e := newEditor(t, "")
	apply(t, e, Open{Path: path})

	require.NoError(t, os.Remove(path))
	eff := apply(t, e, ExternalChange{Path: path, Removed: true})
	assert.False(t, eff.Conflict)
	assert.True(t, e.Metadata().Dirty)
	assert.Equal(t, "keep", e.Text())
	assert.Equal(t, StatusWarn, e.Snapshot(Viewport{}).Status.Level)
}

func TestFromSafetyEvent(t *testing.T) {
	assert.Equal(t, AutoSaveTick{}, FromSafetyEvent(safety.Event{Kind: safety.EventTick}))
	assert.Equal(t, ExternalChange{Path: "/a"}, FromSafetyEvent(safety.Event{Kind: safety.EventExternalChange, Path: "/a"}))
	assert.Equal(t, ExternalChange{Path: "/a", Removed: true}, FromSafetyEvent(safety.Event{Kind: safety.EventExternalRemove, Path: "/a"}))
}
