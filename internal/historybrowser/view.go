package historybrowser

import "github.com/dshills/scribe/internal/timemachine"

// State is the browser's position in its state machine.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateFileListVisible
	StateDiffing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateFileListVisible:
		return "file-list"
	case StateDiffing:
		return "diffing"
	default:
		return "unknown"
	}
}

// DiffState is the diff currently shown. From is empty when the commit is
// compared with its parent. File is empty for a whole-commit diff.
type DiffState struct {
	From string
	To   string
	File string

	// Diff is set for whole-commit diffs, FileDiff for single files.
	Diff     *timemachine.Diff
	FileDiff *timemachine.FileDiff
}

// Empty reports whether no diff is loaded.
func (d DiffState) Empty() bool {
	return d.Diff == nil && d.FileDiff == nil
}

// View is a copy of the browser state for rendering.
type View struct {
	State    State
	Project  string
	Commits  []timemachine.Commit
	Selected int
	Page     int
	Pages    int
	Total    int

	FileListVisible bool
	Files           []timemachine.FileChange
	SelectedFile    string
	Diff            DiffState

	// Base is the commit selected commits are compared against, if set.
	Base   *timemachine.Commit
	Query  string
	Filter string
}

// SelectedCommit returns the selected commit of the view.
func (v View) SelectedCommit() (timemachine.Commit, bool) {
	if v.Selected < 0 || v.Selected >= len(v.Commits) {
		return timemachine.Commit{}, false
	}
	return v.Commits[v.Selected], true
}
