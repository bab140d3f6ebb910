// Package safety protects open files against data loss.
//
// A Manager tracks every open file through the save state machine
// (Clean, Dirty, Saving, SaveFailed), writes files atomically through a
// temporary sibling, keeps a <name>.backup sibling and a crash-recovery
// record up to date while a file is dirty, and watches open files for
// modification by other programs.
//
// The manager never mutates buffers. Background signals (auto-save ticks,
// external changes) are handed to the caller through Run as Event values,
// which the editor applies on its own command path.
//
// Recovery records live in a badger database under the recovery directory,
// keyed by file path (or by a generated name for buffers that were never
// saved) and timestamp. Snapshots of 1 KiB or more are zstd-compressed. Only
// the newest record per file is kept; a successful save discards it.
package safety
