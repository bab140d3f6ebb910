// Package editorerr defines the typed errors shared by the editing core.
//
// Every failure surfaced to a frontend is an *Error carrying a Kind. Kinds are
// grouped into four categories: buffer errors (contract violations inside the
// text model), I/O errors, git errors raised by the time machine, and conflict
// errors that require a user decision. Callers match kinds with errors.Is
// against the package sentinels:
//
//	if errors.Is(err, editorerr.ErrCorruptedFile) {
//	    // refuse to open
//	}
package editorerr

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Kind identifies the failure class of an Error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Buffer errors.
	KindOutOfBounds
	KindInvalidUTF8

	// I/O errors.
	KindNotFound
	KindPermissionDenied
	KindDiskFull
	KindCorruptedFile
	KindBinaryFile
	KindReadOnly
	KindIO

	// Git errors.
	KindGitInit
	KindGitCommit
	KindCorruptRepository
	KindLargeFileBlocked
	KindGit

	// Conflict errors.
	KindExternalModification
	KindRestoreOverUnsaved

	// Miscellaneous.
	KindInvalidOperation
	KindNoMatchFound
)

// Category groups kinds the way frontends report them.
type Category uint8

const (
	CategoryOther Category = iota
	CategoryBuffer
	CategoryIO
	CategoryGit
	CategoryConflict
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryBuffer:
		return "buffer"
	case CategoryIO:
		return "io"
	case CategoryGit:
		return "git"
	case CategoryConflict:
		return "conflict"
	default:
		return "other"
	}
}

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindOutOfBounds:          "out of bounds",
	KindInvalidUTF8:          "invalid utf-8",
	KindNotFound:             "not found",
	KindPermissionDenied:     "permission denied",
	KindDiskFull:             "disk full",
	KindCorruptedFile:        "corrupted file",
	KindBinaryFile:           "binary file",
	KindReadOnly:             "read-only",
	KindIO:                   "i/o error",
	KindGitInit:              "history init failed",
	KindGitCommit:            "history commit failed",
	KindCorruptRepository:    "corrupt history repository",
	KindLargeFileBlocked:     "large file blocked",
	KindGit:                  "history error",
	KindExternalModification: "file modified externally",
	KindRestoreOverUnsaved:   "restore would discard unsaved changes",
	KindInvalidOperation:     "invalid operation",
	KindNoMatchFound:         "no match found",
}

// String returns a short description of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Category returns the category the kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindOutOfBounds, KindInvalidUTF8:
		return CategoryBuffer
	case KindNotFound, KindPermissionDenied, KindDiskFull, KindCorruptedFile,
		KindBinaryFile, KindReadOnly, KindIO:
		return CategoryIO
	case KindGitInit, KindGitCommit, KindCorruptRepository, KindLargeFileBlocked, KindGit:
		return CategoryGit
	case KindExternalModification, KindRestoreOverUnsaved:
		return CategoryConflict
	default:
		return CategoryOther
	}
}

// Sentinels for errors.Is matching. A sentinel matches any *Error of the same kind.
var (
	ErrOutOfBounds          = &Error{Kind: KindOutOfBounds}
	ErrInvalidUTF8          = &Error{Kind: KindInvalidUTF8}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrPermissionDenied     = &Error{Kind: KindPermissionDenied}
	ErrDiskFull             = &Error{Kind: KindDiskFull}
	ErrCorruptedFile        = &Error{Kind: KindCorruptedFile}
	ErrBinaryFile           = &Error{Kind: KindBinaryFile}
	ErrReadOnly             = &Error{Kind: KindReadOnly}
	ErrIO                   = &Error{Kind: KindIO}
	ErrGitInit              = &Error{Kind: KindGitInit}
	ErrGitCommit            = &Error{Kind: KindGitCommit}
	ErrCorruptRepository    = &Error{Kind: KindCorruptRepository}
	ErrLargeFileBlocked     = &Error{Kind: KindLargeFileBlocked}
	ErrGit                  = &Error{Kind: KindGit}
	ErrExternalModification = &Error{Kind: KindExternalModification}
	ErrRestoreOverUnsaved   = &Error{Kind: KindRestoreOverUnsaved}
	ErrInvalidOperation     = &Error{Kind: KindInvalidOperation}
	ErrNoMatchFound         = &Error{Kind: KindNoMatchFound}
)

// Error is a classified editor error.
type Error struct {
	Kind   Kind   // Failure class
	Op     string // Operation that failed (e.g. "open", "save", "commit")
	Path   string // File or repository path, if any
	Detail string // Extra context
	Err    error  // Underlying error
}

// New creates an Error of the given kind.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf creates an Error with a formatted detail message.
func Newf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is a sentinel of the same kind, or the same instance.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e == t {
		return true
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Detail == "" && t.Kind == e.Kind
}

// Category returns the error's category.
func (e *Error) Category() Category {
	return e.Kind.Category()
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConflict reports whether err requires a user decision.
func IsConflict(err error) bool {
	return KindOf(err).Category() == CategoryConflict
}

// FromOS classifies an operating-system error into an *Error.
// Nil stays nil; an existing *Error is returned unchanged.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := KindIO
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, os.ErrPermission):
		kind = KindPermissionDenied
	case errors.Is(err, syscall.ENOSPC):
		kind = KindDiskFull
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
