// Package historybrowser holds the state of the time machine's history view:
// the commit list, the selected commit, its changed files and the diff being
// shown.
//
// A Browser is a projection over query results from a Source. It moves
// through these states:
//
//	Closed -> Open -> FileListVisible
//	              \-> Diffing(commit, file)
//	any    -> Closed
//
// Data is fetched from the Source when a state is entered. Nothing is kept
// across sessions: Close drops every commit, file list and diff, because the
// history can grow between sessions.
//
// The commit list is paged (DefaultPageSize commits per page). A message
// search and a file path filter narrow the list; when either is active the
// full result is fetched once and paged locally.
//
// A Browser is not safe for concurrent use. The editor owns it and drives it
// from its command path.
package historybrowser
