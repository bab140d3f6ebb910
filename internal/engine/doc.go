// Package engine provides the editing core of Scribe.
//
// EditorState ties one text buffer to its cursors, its undo history, the
// file safety manager and the time machine. Frontends drive it with
// commands and draw it from snapshots; nothing else changes the state.
//
// # Architecture
//
// The engine is built on several sub-packages:
//
//   - buffer: line-based text storage, file decoding and line endings
//   - cursor: multi-cursor and selection management
//   - history: grouped undo/redo of buffer changes
//
// File safety (atomic saves, auto-save, crash recovery, external change
// detection) lives in internal/safety, the per-project git history in
// internal/timemachine and its browsing state in internal/historybrowser.
//
// # Thread Safety
//
// All EditorState methods are safe for concurrent use. Apply runs one
// command at a time. Work that outlives a command, such as committing a
// save to history, runs in the background and reports through Status.
//
// # Basic Usage
//
//	e, err := engine.New(engine.WithContent("hello"))
//	if err != nil {
//		return err
//	}
//	defer e.Close()
//
//	e.Apply(engine.Move{Kind: cursor.MoveLineEnd})
//	e.Apply(engine.InsertText{Text: ", world"})
//	e.Apply(engine.Undo{})
//
//	s := e.Snapshot(engine.Viewport{Height: 40})
//	for _, line := range s.Lines {
//		fmt.Println(line)
//	}
//
// # Multi-Cursor Editing
//
// Every editing command applies once per cursor. Edits are made from the
// last cursor to the first so earlier cursors never see shifted positions,
// and the whole fan-out is a single undo step. Cursors that end up on the
// same position or overlapping selections are merged.
//
// # Files and History
//
// Open, Save and the other file commands go through the safety manager when
// one is configured with WithSafety. Each successful save is committed to
// the time machine set with WithTimeMachine; RestoreFile brings an old
// version back and refuses to overwrite unsaved changes unless confirmed.
//
// Background sources are turned into commands rather than touching the
// state directly:
//
//	go mgr.Run(ctx, func(ev safety.Event) {
//		if c := engine.FromSafetyEvent(ev); c != nil {
//			e.Apply(c)
//		}
//	})
package engine
