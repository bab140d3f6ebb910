package engine

import "github.com/dshills/scribe/internal/editorerr"

// Errors returned by EditorState. All are *editorerr.Error values; match
// them with errors.Is against the editorerr sentinels.

func errReadOnly(op, path string) error {
	return editorerr.Newf(editorerr.KindReadOnly, op, path, "buffer is read-only")
}

func errBinary(op, path string) error {
	return editorerr.Newf(editorerr.KindBinaryFile, op, path, "binary files cannot be edited")
}

func errUnsaved(op, path string) error {
	return editorerr.Newf(editorerr.KindInvalidOperation, op, path, "unsaved changes (force to discard)")
}

func errNoPath(op string) error {
	return editorerr.Newf(editorerr.KindInvalidOperation, op, "", "buffer has no file name")
}

func errNoHistory(op string) error {
	return editorerr.Newf(editorerr.KindInvalidOperation, op, "", "history is disabled")
}
