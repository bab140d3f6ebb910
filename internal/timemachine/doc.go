// Package timemachine keeps an automatic, append-only version history of
// every saved file in a hidden git repository, separate from any repository
// the user controls.
//
// Each project (or standalone directory) gets its own repository under the
// storage root, at a path derived from the SHA-256 of the canonical project
// path:
//
//	<storage_root>/<hash>/repo.git              git directory
//	<storage_root>/<hash>/work/                 work tree (copies of saved files)
//	<storage_root>/<hash>/project_metadata.toml original project path
//	<storage_root>/<hash>/annotations.json      user notes per commit
//	<storage_root>/<hash>.backup_<ts>/          backups taken before cleanup or repair
//	<storage_root>/<hash>.lock                  inter-process lock
//
// Every git invocation runs the git binary with GIT_DIR and GIT_WORK_TREE
// pointing at the hidden repository and with the caller's GIT_* environment
// and global configuration removed, so the user's own repositories are never
// read or written.
//
// Basic usage:
//
//	tm, err := timemachine.New(root, timemachine.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	res, err := tm.AutoCommitOnSave(ctx, project, []string{path})
//
// Commit failures never need to fail a user-facing save: the file on disk is
// the source of truth and callers are expected to log the error.
package timemachine
