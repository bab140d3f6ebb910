package timemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/scribe/internal/editorerr"
)

const annotationsFile = "annotations.json"

type annotationFile struct {
	Annotations map[string]string `json:"annotations"`
}

func loadAnnotations(r *repo) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, annotationsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var f annotationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse annotations: %w", err)
	}
	if f.Annotations == nil {
		f.Annotations = map[string]string{}
	}
	return f.Annotations, nil
}

func saveAnnotations(r *repo, notes map[string]string) error {
	data, err := json.MarshalIndent(annotationFile{Annotations: notes}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode annotations: %w", err)
	}
	tmp := filepath.Join(r.dir, annotationsFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(r.dir, annotationsFile))
}

// attachAnnotations fills Annotation on commits. A damaged annotations file
// leaves them empty.
func attachAnnotations(r *repo, commits []Commit) {
	notes, err := loadAnnotations(r)
	if err != nil || len(notes) == 0 {
		return
	}
	for i := range commits {
		commits[i].Annotation = notes[commits[i].Hash]
	}
}

// Annotate attaches a note to a commit. An empty note removes it.
func (m *Manager) Annotate(ctx context.Context, project, commit, note string) error {
	return m.withRepo(ctx, project, func(r *repo) error {
		hash, err := r.resolveCommit(ctx, commit)
		if err != nil {
			return err
		}
		notes, err := loadAnnotations(r)
		if err != nil {
			return editorerr.New(editorerr.KindGit, "annotate", r.dir, err)
		}
		note = strings.TrimSpace(note)
		if note == "" {
			delete(notes, hash)
		} else {
			notes[hash] = note
		}
		if err := saveAnnotations(r, notes); err != nil {
			return editorerr.New(editorerr.KindGit, "annotate", r.dir, err)
		}
		return nil
	})
}

// RemoveAnnotation deletes the note on a commit.
func (m *Manager) RemoveAnnotation(ctx context.Context, project, commit string) error {
	return m.Annotate(ctx, project, commit, "")
}

// Annotation returns the note on a commit.
func (m *Manager) Annotation(ctx context.Context, project, commit string) (string, bool, error) {
	var (
		note string
		ok   bool
	)
	err := m.withRepo(ctx, project, func(r *repo) error {
		hash, err := r.resolveCommit(ctx, commit)
		if err != nil {
			return err
		}
		notes, err := loadAnnotations(r)
		if err != nil {
			return editorerr.New(editorerr.KindGit, "annotation", r.dir, err)
		}
		note, ok = notes[hash]
		return nil
	})
	return note, ok, err
}

// Annotations returns every note of project keyed by commit hash.
func (m *Manager) Annotations(ctx context.Context, project string) (map[string]string, error) {
	var notes map[string]string
	err := m.withRepo(ctx, project, func(r *repo) error {
		var err error
		notes, err = loadAnnotations(r)
		return err
	})
	return notes, err
}

// remapAnnotations moves notes to rewritten commits and drops notes of
// commits that no longer exist.
func remapAnnotations(r *repo, rewritten map[string]string) error {
	notes, err := loadAnnotations(r)
	if err != nil || len(notes) == 0 {
		return err
	}
	moved := make(map[string]string, len(notes))
	for old, note := range notes {
		if nu, ok := rewritten[old]; ok {
			moved[nu] = note
		}
	}
	return saveAnnotations(r, moved)
}
