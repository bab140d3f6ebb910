package safety

import "time"

// SaveState is the persistence state of one open file.
//
//	Clean -> Dirty -> Saving -> Clean
//	                         -> SaveFailed -> Dirty
type SaveState uint8

const (
	StateClean SaveState = iota
	StateDirty
	StateSaving
	StateSaveFailed
)

func (s SaveState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateSaveFailed:
		return "save-failed"
	default:
		return "unknown"
	}
}

// HasUnsavedChanges returns true in every state except Clean.
func (s SaveState) HasUnsavedChanges() bool {
	return s != StateClean
}

// fileState is everything the manager knows about one tracked file.
type fileState struct {
	state SaveState

	// On-disk identity recorded at load or last save. An external change is
	// any stat result that differs from it.
	modTime time.Time
	size    int64
	exists  bool

	// Auto-save bookkeeping
	editsSinceAutoSave int
	lastAutoSave       time.Time

	lastErr error
}

func (f *fileState) markDirty() {
	switch f.state {
	case StateClean, StateSaveFailed:
		f.state = StateDirty
	}
	f.editsSinceAutoSave++
}

// matches reports whether a stat result equals the recorded disk identity.
func (f *fileState) matches(modTime time.Time, size int64, exists bool) bool {
	if exists != f.exists {
		return false
	}
	if !exists {
		return true
	}
	return modTime.Equal(f.modTime) && size == f.size
}
