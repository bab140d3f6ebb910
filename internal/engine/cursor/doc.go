// Package cursor implements cursors, selections and multi-cursor sets.
//
// Cursors are values addressed by buffer line and column; they never point
// into buffer storage. After a structural edit, cursors are moved with
// TransformCursor or re-validated with CursorSet.Clamp.
//
// A CursorSet is never empty and keeps exactly one primary cursor. Every
// operation ends with a merge pass (Normalize): cursors whose heads coincide
// or whose selections overlap collapse into the one that sorts first, which
// takes the union of their selections.
//
// Multi-cursor edits are applied in the order returned by Descending so that
// editing one cursor never invalidates the position of the next.
package cursor
