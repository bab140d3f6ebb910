// Package history provides undo/redo for the editing core.
//
// Every edit is recorded as an Entry holding the primitive buffer changes it
// made plus the cursor state before and after. Entries are collected into
// groups; undo and redo always move a whole group. A group is formed by:
//
//   - an explicit BeginGroup/EndGroup pair (or GroupScope, Transaction),
//   - consecutive single-character typing on the same lines within the group
//     timeout, or
//   - otherwise, a single entry.
//
// Pushing a new entry clears the redo stack. The undo stack is capped by
// group count and estimated memory; when a cap is exceeded the oldest groups
// are dropped whole.
//
// Undo and redo replay recorded changes with buffer.ApplyChanges, which
// checks that the buffer still holds the expected text. Replaying against a
// buffer that was modified outside the history fails without changing it.
package history
