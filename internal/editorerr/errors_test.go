package editorerr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindCorruptedFile, "open", "/tmp/a.txt", errors.New("invalid byte at 12"))

	want := "open: corrupted file (/tmp/a.txt): invalid byte at 12"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("load: %w", Newf(KindCorruptedFile, "open", "x", "truncated read"))

	if !errors.Is(err, ErrCorruptedFile) {
		t.Error("wrapped error should match ErrCorruptedFile")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupted file should not match ErrNotFound")
	}
	if KindOf(err) != KindCorruptedFile {
		t.Errorf("KindOf = %v, want corrupted file", KindOf(err))
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindOutOfBounds, CategoryBuffer},
		{KindInvalidUTF8, CategoryBuffer},
		{KindDiskFull, CategoryIO},
		{KindCorruptedFile, CategoryIO},
		{KindLargeFileBlocked, CategoryGit},
		{KindCorruptRepository, CategoryGit},
		{KindExternalModification, CategoryConflict},
		{KindRestoreOverUnsaved, CategoryConflict},
		{KindNoMatchFound, CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Category(); got != tt.want {
				t.Errorf("Category() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(New(KindRestoreOverUnsaved, "restore", "a.txt", nil)) {
		t.Error("restore over unsaved should be a conflict")
	}
	if IsConflict(errors.New("plain")) {
		t.Error("plain error is not a conflict")
	}
}

func TestFromOS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not exist", &fs.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, KindNotFound},
		{"permission", &fs.PathError{Op: "open", Path: "x", Err: os.ErrPermission}, KindPermissionDenied},
		{"disk full", &fs.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, KindDiskFull},
		{"other", errors.New("boom"), KindIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromOS("save", "x", tt.err)
			if KindOf(got) != tt.want {
				t.Errorf("KindOf(FromOS) = %v, want %v", KindOf(got), tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should unwrap to the original")
			}
		})
	}

	if FromOS("save", "x", nil) != nil {
		t.Error("FromOS(nil) should be nil")
	}

	already := New(KindReadOnly, "save", "x", nil)
	if FromOS("save", "x", already) != error(already) {
		t.Error("FromOS should pass an *Error through unchanged")
	}
}
