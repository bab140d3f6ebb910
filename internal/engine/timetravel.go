package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/editorerr"
	"github.com/dshills/scribe/internal/engine/buffer"
	"github.com/dshills/scribe/internal/timemachine"
)

// project returns the history root of the open file.
func (e *EditorState) project(op string) (string, error) {
	if e.tm == nil {
		return "", errNoHistory(op)
	}
	if e.meta.Path == "" {
		return "", errNoPath(op)
	}
	mode, err := timemachine.DetectTrackingMode(e.meta.Path)
	if err != nil {
		return "", err
	}
	return mode.Root, nil
}

// resolveFile turns a command's file argument into an absolute path. An
// empty file is the open one.
func (e *EditorState) resolveFile(project, file string) string {
	switch {
	case file == "":
		return e.meta.Path
	case filepath.IsAbs(file):
		return filepath.Clean(file)
	default:
		return filepath.Join(project, filepath.FromSlash(file))
	}
}

// resolveCommit defaults to the commit selected in the history browser.
func (e *EditorState) resolveCommit(op, commit string) (string, error) {
	if commit != "" {
		return commit, nil
	}
	if e.browser != nil {
		if c, ok := e.browser.Selected(); ok {
			return c.Hash, nil
		}
	}
	return "", editorerr.Newf(editorerr.KindInvalidOperation, op, "", "no commit given")
}

func (e *EditorState) restoreFile(c RestoreFile) (Effect, error) {
	project, err := e.project("restore")
	if err != nil {
		return Effect{}, err
	}
	commit, err := e.resolveCommit("restore", c.Commit)
	if err != nil {
		return Effect{}, err
	}
	file := e.resolveFile(project, c.File)
	current := samePath(file, e.meta.Path)

	opts := timemachine.RestoreOptions{Unsaved: current && e.meta.Dirty, Confirmed: c.Confirm}
	content, err := e.tm.RestoreFile(e.ctx, project, commit, file, opts)
	if err != nil {
		return Effect{}, err
	}

	var eff Effect
	if current {
		buf, err := buffer.Read(bytes.NewReader(content), int64(len(content)), e.bufferOptions()...)
		if err != nil {
			return Effect{}, err
		}
		meta := e.meta
		meta.Dirty = false
		meta.Binary = false
		if info, err := os.Stat(file); err == nil {
			meta.DiskModTime = info.ModTime()
		}
		e.replaceContent(buf, meta)
		if e.safety != nil {
			if err := e.safety.MarkClean(file); err != nil {
				e.log.Warn("mark clean", zap.String("path", file), zap.Error(err))
			}
			if err := e.safety.DiscardRecovery(file); err != nil {
				e.log.Warn("discard recovery", zap.String("path", file), zap.Error(err))
			}
		}
		eff.Changed = true
	}

	e.setStatus(StatusInfo, fmt.Sprintf("Restored %s from %s", filepath.Base(file), shortHash(commit)))
	e.log.Info("restored file", zap.String("path", file), zap.String("commit", shortHash(commit)))
	return eff, nil
}

func (e *EditorState) previewRestore(commit, file string) (Effect, error) {
	project, err := e.project("preview restore")
	if err != nil {
		return Effect{}, err
	}
	commit, err = e.resolveCommit("preview restore", commit)
	if err != nil {
		return Effect{}, err
	}
	preview, err := e.tm.PreviewRestore(e.ctx, project, commit, e.resolveFile(project, file))
	if err != nil {
		return Effect{}, err
	}
	return Effect{Preview: preview}, nil
}

// cleanupHistory applies the retention policy in the background and
// reports the result on the status channel.
func (e *EditorState) cleanupHistory() (Effect, error) {
	project, err := e.project("cleanup")
	if err != nil {
		return Effect{}, err
	}
	e.setStatus(StatusInfo, "Cleaning up history...")
	e.background(func(ctx context.Context) {
		stats, err := e.tm.Cleanup(ctx, project)
		if err != nil {
			e.log.Warn("history cleanup failed", zap.String("project", project), zap.Error(err))
			e.publish(StatusMessage{Level: StatusError, Message: "Cleanup: " + err.Error(), Err: err})
			return
		}
		e.publish(StatusMessage{
			Level: StatusInfo,
			Message: fmt.Sprintf("Cleanup: removed %d of %d commits, %s freed",
				stats.Removed(), stats.CommitsBefore, formatBytes(stats.SizeBefore-stats.SizeAfter)),
		})
	})
	return Effect{}, nil
}

func (e *EditorState) historyStats() (Effect, error) {
	project, err := e.project("stats")
	if err != nil {
		return Effect{}, err
	}
	stats, err := e.tm.Stats(e.ctx, project)
	if err != nil {
		return Effect{}, err
	}
	return Effect{Stats: &stats}, nil
}

// ============================================================================
// History browser
// ============================================================================

func isBrowserCommand(c Command) bool {
	switch c.(type) {
	case OpenHistoryBrowser, CloseHistoryBrowser,
		HistoryNext, HistoryPrevious, HistoryFirst, HistoryLast, HistoryPageUp, HistoryPageDown,
		HistorySelect, HistoryToggleFileList, HistorySelectFile, HistoryShowDiff,
		HistorySetBase, HistoryClearBase, HistorySearch, HistoryClearSearch,
		HistoryFilterByFile, HistoryClearFilter, HistoryAnnotate, HistoryRefresh:
		return true
	}
	return false
}

// browserCommand runs a history browser command. ok is false when c is not
// one.
func (e *EditorState) browserCommand(c Command) (eff Effect, ok bool, err error) {
	if !isBrowserCommand(c) {
		return Effect{}, false, nil
	}
	if e.browser == nil {
		return Effect{}, true, errNoHistory(CommandName(c))
	}

	b, ctx := e.browser, e.ctx
	switch c := c.(type) {
	case OpenHistoryBrowser:
		project, perr := e.project("history")
		if perr != nil {
			return Effect{}, true, perr
		}
		err = b.Open(ctx, project)
	case CloseHistoryBrowser:
		b.Close()
	case HistoryNext:
		_, err = b.Next(ctx)
	case HistoryPrevious:
		_, err = b.Previous(ctx)
	case HistoryFirst:
		_, err = b.First(ctx)
	case HistoryLast:
		_, err = b.Last(ctx)
	case HistoryPageUp:
		_, err = b.PageUp(ctx)
	case HistoryPageDown:
		_, err = b.PageDown(ctx)
	case HistorySelect:
		_, err = b.Select(ctx, c.Index)
	case HistoryToggleFileList:
		err = b.ToggleFileList(ctx)
	case HistorySelectFile:
		err = b.SelectFile(ctx, c.Path)
	case HistoryShowDiff:
		err = b.ShowDiff(ctx)
	case HistorySetBase:
		err = b.SetBase()
	case HistoryClearBase:
		b.ClearBase()
	case HistorySearch:
		err = b.Search(ctx, c.Query)
	case HistoryClearSearch:
		err = b.ClearSearch(ctx)
	case HistoryFilterByFile:
		err = b.FilterByFile(ctx, c.Substr)
	case HistoryClearFilter:
		err = b.ClearFilter(ctx)
	case HistoryAnnotate:
		err = b.Annotate(ctx, c.Note)
	case HistoryRefresh:
		err = b.Refresh(ctx)
	}
	return Effect{}, true, err
}

func (e *EditorState) closeBrowser() {
	if e.browser != nil {
		e.browser.Close()
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", max(n, 0))
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
