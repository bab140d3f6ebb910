package timemachine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGitNotFound indicates the git binary is not on PATH.
	ErrGitNotFound = errors.New("git executable not found")

	// ErrNoHistory indicates the project has no commits yet.
	ErrNoHistory = errors.New("no history for project")

	// ErrOutsideProject indicates a file does not live under the project root.
	ErrOutsideProject = errors.New("file is outside the project")

	// ErrLocked indicates another process holds the repository lock.
	ErrLocked = errors.New("history repository is locked")

	// ErrBackupNotFound indicates the named backup does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)

// GitError is a failed git invocation.
type GitError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// exitCode returns the exit status of a failed git command, or -1.
func exitCode(err error) int {
	var ge *GitError
	if errors.As(err, &ge) {
		return ge.ExitCode
	}
	return -1
}
